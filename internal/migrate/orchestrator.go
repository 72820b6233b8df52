// Package migrate drives a migration run: it picks the posts to publish,
// launches them at a steady pace, publishes quoted posts ahead of the
// posts that quote them, and advances the checkpoint.
package migrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
	"github.com/blackmichael/bluesky-migrate/internal/publish"
	"github.com/blackmichael/bluesky-migrate/internal/store"
)

// DryRunStagger is the launch interval used for dry runs.
const DryRunStagger = 10 * time.Millisecond

const snippetLength = 50

// Poster publishes one post.
type Poster interface {
	CreatePost(ctx context.Context, post domain.Post, quote *domain.StrongRef) (*publish.Result, error)
}

// SizeFunc reports the size of a media file, for dry-run output.
type SizeFunc func(name string) (int64, error)

// Options configure an Orchestrator.
type Options struct {
	// Stagger is the pause between launching consecutive publishes.
	Stagger time.Duration

	// MaxInFlight caps concurrent publishes. Zero means no cap.
	MaxInFlight int

	// DryRun prints what would be published without calling the PDS or
	// writing any state.
	DryRun bool

	Selection Selection

	// Out receives one outcome line per post.
	Out io.Writer

	// MediaSize is used to describe attachments in dry runs. Optional.
	MediaSize SizeFunc

	// OnPublished is called with every created post. Optional.
	OnPublished func(domain.StrongRef)
}

// Orchestrator runs a migration.
type Orchestrator struct {
	poster     Poster
	checkpoint domain.CheckpointStore
	ledger     domain.Ledger
	metrics    *Metrics
	logger     *slog.Logger
	opts       Options

	inflight singleflight.Group

	outMu sync.Mutex

	mu       sync.Mutex
	progress domain.Progress
}

// New creates an Orchestrator. poster may be nil for dry runs; a nil
// ledger is replaced by an in-memory one and nil metrics by an unregistered
// set.
func New(poster Poster, checkpoint domain.CheckpointStore, ledger domain.Ledger, metrics *Metrics, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.DryRun {
		opts.Stagger = DryRunStagger
	}
	if ledger == nil {
		ledger = store.NewMemoryLedger()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Orchestrator{
		poster:     poster,
		checkpoint: checkpoint,
		ledger:     ledger,
		metrics:    metrics,
		logger:     logger,
		opts:       opts,
		progress:   domain.Progress{DryRun: opts.DryRun},
	}
}

// Progress returns a snapshot of the current run.
func (o *Orchestrator) Progress() domain.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Run publishes posts in order. Launches are spaced by the stagger; each
// publish runs on its own goroutine and Run returns once all of them have
// finished. Failures are reported per post and never stop the run. A
// cancelled ctx stops further launches.
func (o *Orchestrator) Run(ctx context.Context, posts []domain.Post) domain.Progress {
	o.mu.Lock()
	o.progress.Total = len(posts)
	o.mu.Unlock()

	o.logger.Info("starting run",
		"posts", len(posts),
		"mode", o.opts.Selection.Mode.String(),
		"stagger", o.opts.Stagger,
		"max_in_flight", o.opts.MaxInFlight,
		"dry_run", o.opts.DryRun,
	)

	limit := rate.Inf
	if o.opts.Stagger > 0 {
		limit = rate.Every(o.opts.Stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	var g errgroup.Group
	if o.opts.MaxInFlight > 0 {
		g.SetLimit(o.opts.MaxInFlight)
	}

	for _, post := range posts {
		if err := limiter.Wait(ctx); err != nil {
			o.logger.Warn("run cancelled, no further posts launched", "error", err)
			break
		}

		o.mu.Lock()
		o.progress.Launched++
		o.mu.Unlock()

		g.Go(func() error {
			o.publishOne(ctx, post)
			return nil
		})
	}
	g.Wait()

	p := o.Progress()
	o.logger.Info("run finished",
		"total", p.Total,
		"published", p.Published,
		"failed", p.Failed,
		"skipped", p.Skipped,
		"quotes_published", p.QuotesPublished,
	)
	return p
}

func (o *Orchestrator) publishOne(ctx context.Context, post domain.Post) {
	if o.opts.DryRun {
		o.preview(post)
		return
	}

	var quote *domain.StrongRef
	if post.Quoted != nil {
		ref, err := o.ensureQuoted(ctx, *post.Quoted)
		if err != nil {
			o.logger.Warn("quoted post could not be published, posting without quote",
				"post_id", post.ID, "quoted_id", post.Quoted.ID, "error", err)
			post = post.WithoutQuote()
		} else {
			quote = &ref
		}
	}

	out, err := o.publishOnce(ctx, post, quote)
	if err != nil {
		o.metrics.failed.Inc()
		o.logger.Error("failed to publish post", "post_id", post.ID, "timestamp", post.Timestamp(), "error", err)
		o.printf("❌ %s | %v\n", snippet(post.Text), err)
		o.finish(func(p *domain.Progress) { p.Failed++ })
		return
	}

	if out.existed {
		o.printf("⏭️  %s | already published | %s\n", snippet(post.Text), bluesky.WebURL(out.res.Ref.URI))
	} else {
		o.metrics.published.Inc()
		o.printf("✅ %s | %s | %s\n", snippet(post.Text), out.res.Attachment, bluesky.WebURL(out.res.Ref.URI))
	}

	saved := o.advance(ctx, post)
	o.finish(func(p *domain.Progress) {
		if out.existed {
			p.Skipped++
		} else {
			p.Published++
		}
		if saved && post.Timestamp() > p.Checkpoint {
			p.Checkpoint = post.Timestamp()
			o.metrics.checkpoint.Set(float64(post.CreatedAt.Unix()))
		}
	})
}

// ensureQuoted returns the remote reference of a quoted post, publishing it
// first if it has none. Only one level is followed: the quoted post is
// published without a quote of its own.
func (o *Orchestrator) ensureQuoted(ctx context.Context, quoted domain.Post) (domain.StrongRef, error) {
	out, err := o.publishOnce(ctx, quoted.WithoutQuote(), nil)
	if err != nil {
		return domain.StrongRef{}, err
	}
	if !out.existed {
		o.metrics.quotes.Inc()
		o.printf("✅ %s | quoted post | %s\n", snippet(quoted.Text), bluesky.WebURL(out.res.Ref.URI))
		o.finish(func(p *domain.Progress) { p.QuotesPublished++ })
	}
	return out.res.Ref, nil
}

type outcome struct {
	res *publish.Result

	// existed is set when this caller did not create the post: it was in
	// the ledger already or another goroutine published it.
	existed bool
}

// publishOnce creates post unless the ledger already knows it. Concurrent
// calls for the same source post share a single publish.
func (o *Orchestrator) publishOnce(ctx context.Context, post domain.Post, quote *domain.StrongRef) (outcome, error) {
	executed := false
	v, err, _ := o.inflight.Do(post.ID, func() (any, error) {
		executed = true

		ref, ok, err := o.ledger.Lookup(ctx, post.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup ledger: %w", err)
		}
		if ok {
			return outcome{res: &publish.Result{Ref: ref}, existed: true}, nil
		}

		o.metrics.inFlight.Inc()
		start := time.Now()
		res, err := o.poster.CreatePost(ctx, post, quote)
		o.metrics.publishSeconds.Observe(time.Since(start).Seconds())
		o.metrics.inFlight.Dec()
		if err != nil {
			return nil, err
		}

		o.metrics.mediaFailures.Add(float64(len(res.MediaErrors)))
		if err := o.ledger.Record(ctx, post.ID, res.Ref); err != nil {
			o.logger.Error("failed to record published post", "post_id", post.ID, "uri", res.Ref.URI, "error", err)
		}
		if o.opts.OnPublished != nil {
			o.opts.OnPublished(res.Ref)
		}
		return outcome{res: res}, nil
	})
	if err != nil {
		return outcome{}, err
	}

	out := v.(outcome)
	if !executed {
		out.existed = true
	}
	return out, nil
}

// advance saves post's time as the checkpoint when the mode allows it.
func (o *Orchestrator) advance(ctx context.Context, post domain.Post) bool {
	if !o.opts.Selection.WritesCheckpoint() {
		return false
	}
	if err := o.checkpoint.Save(ctx, post.CreatedAt); err != nil {
		o.logger.Error("failed to save checkpoint", "post_id", post.ID, "timestamp", post.Timestamp(), "error", err)
		return false
	}
	return true
}

func (o *Orchestrator) preview(post domain.Post) {
	var quote *domain.StrongRef
	if post.Quoted != nil {
		quote = &domain.StrongRef{URI: "at://pending/" + post.Quoted.ID}
	}

	attachment := publish.Attachment(post, quote)
	if o.opts.MediaSize != nil && len(post.Media.Files) > 0 {
		var total int64
		for _, name := range post.Media.Files {
			n, err := o.opts.MediaSize(name)
			if err != nil {
				attachment += fmt.Sprintf(", %s missing", name)
				continue
			}
			total += n
		}
		attachment += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(total)))
	}

	line := fmt.Sprintf("🔎 %s | %s | %s", post.Timestamp(), snippet(publish.ComposeText(post)), attachment)
	if post.Quoted != nil {
		line += " | quotes " + post.Quoted.ID
	}
	o.printf("%s\n", line)
	o.finish(func(p *domain.Progress) { p.Published++ })
}

func (o *Orchestrator) finish(update func(*domain.Progress)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	update(&o.progress)
}

func (o *Orchestrator) printf(format string, args ...any) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.opts.Out, format, args...)
}

// snippet shortens text to a single line for outcome output.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetLength {
		return text
	}
	r := []rune(text)
	return string(r[:snippetLength]) + "…"
}
