package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-migrate/internal/archive"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// Mode picks which posts a run publishes.
type Mode int

const (
	// ModeResume publishes the posts newer than the saved checkpoint.
	ModeResume Mode = iota

	// ModeStartFrom publishes the posts newer than an explicit time.
	ModeStartFrom

	// ModeReprocess publishes the posts matching a predicate and never
	// touches the checkpoint.
	ModeReprocess
)

func (m Mode) String() string {
	switch m {
	case ModeStartFrom:
		return "start-from"
	case ModeReprocess:
		return "reprocess"
	default:
		return "resume"
	}
}

// Predicate selects posts for ModeReprocess.
type Predicate func(domain.Post) bool

// Selection describes how a run picks its posts.
type Selection struct {
	Mode Mode

	// StartFrom is the exclusive lower bound for ModeStartFrom, in UTC.
	StartFrom time.Time

	// Reprocess and ReprocessName are set for ModeReprocess.
	Reprocess     Predicate
	ReprocessName string
}

// WritesCheckpoint reports whether successful publishes advance the
// checkpoint in this mode.
func (s Selection) WritesCheckpoint() bool {
	return s.Mode != ModeReprocess
}

// NewSelection builds a Selection from the command line options. At most
// one of startFrom and reprocess may be set.
func NewSelection(startFrom string, localTime bool, reprocess string) (Selection, error) {
	if startFrom != "" && reprocess != "" {
		return Selection{}, fmt.Errorf("--start-from and --reprocess cannot be combined")
	}

	switch {
	case startFrom != "":
		ts, err := ParseStartFrom(startFrom, localTime)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Mode: ModeStartFrom, StartFrom: ts}, nil

	case reprocess != "":
		pred, err := ParseReprocess(reprocess)
		if err != nil {
			return Selection{}, err
		}
		return Selection{Mode: ModeReprocess, Reprocess: pred, ReprocessName: reprocess}, nil

	default:
		return Selection{Mode: ModeResume}, nil
	}
}

// ParseStartFrom parses a "2006-01-02 15:04:05" (or date only) time. It is
// read as local time when local is set and as UTC otherwise, and returned
// in UTC.
func ParseStartFrom(s string, local bool) (time.Time, error) {
	loc := time.UTC
	if local {
		loc = time.Local
	}
	for _, layout := range []string{domain.TimestampLayout, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(s), loc); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start time %q: want %q", s, domain.TimestampLayout)
}

// ParseReprocess returns the predicate for a named subset: video, gif,
// photo or media.
func ParseReprocess(name string) (Predicate, error) {
	switch name {
	case "video":
		return func(p domain.Post) bool { return p.Media.Kind == domain.MediaVideo && p.Media.IsVideo() }, nil
	case "gif":
		return func(p domain.Post) bool { return p.Media.Kind == domain.MediaGIF && p.Media.IsVideo() }, nil
	case "photo":
		return func(p domain.Post) bool { return p.Media.IsPhoto() }, nil
	case "media":
		return func(p domain.Post) bool { return p.Media.IsVideo() || p.Media.IsPhoto() }, nil
	default:
		return nil, fmt.Errorf("unknown reprocess subset %q (want video, gif, photo or media)", name)
	}
}

// BuildSequence orders records oldest first, drops replies and normalizes
// the rest.
func BuildSequence(records []archive.Record, logger *slog.Logger) []domain.Post {
	sorted := append([]archive.Record(nil), records...)
	archive.SortChronological(sorted)
	kept := archive.FilterReplies(sorted)
	logger.Info("filtered replies", "records", len(records), "kept", len(kept))
	return archive.Normalize(kept, logger)
}

// Select returns the posts this run should publish, in order.
func Select(ctx context.Context, posts []domain.Post, sel Selection, checkpoint domain.CheckpointStore, logger *slog.Logger) ([]domain.Post, error) {
	switch sel.Mode {
	case ModeReprocess:
		var out []domain.Post
		for _, p := range posts {
			if sel.Reprocess(p) {
				out = append(out, p)
			}
		}
		logger.Info("reprocessing subset", "subset", sel.ReprocessName, "posts", len(out))
		return out, nil

	case ModeStartFrom:
		logger.Info("starting from explicit time", "after", sel.StartFrom.Format(domain.TimestampLayout))
		return after(posts, sel.StartFrom), nil

	default:
		ts, ok, err := checkpoint.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		if !ok {
			logger.Info("no checkpoint, starting from the beginning")
			return posts, nil
		}
		logger.Info("resuming after checkpoint", "checkpoint", ts.Format(domain.TimestampLayout))
		return after(posts, ts), nil
	}
}

// after keeps the posts created strictly after ts. Comparison is at second
// precision, matching the checkpoint format.
func after(posts []domain.Post, ts time.Time) []domain.Post {
	bound := ts.UTC().Truncate(time.Second)
	var out []domain.Post
	for _, p := range posts {
		if p.CreatedAt.UTC().Truncate(time.Second).After(bound) {
			out = append(out, p)
		}
	}
	return out
}
