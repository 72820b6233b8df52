package facets

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
)

// HandleResolver looks up the DID behind a handle. Implementations return
// an error wrapping bluesky.ErrHandleNotFound when the handle does not
// exist.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

// Build scans text and returns its facets ordered by byte offset. Mentions
// whose handle cannot be resolved are left out; links and tags are always
// included.
func Build(ctx context.Context, text string, resolver HandleResolver, logger *slog.Logger) []bluesky.Facet {
	var out []bluesky.Facet

	for _, m := range FindMentions(text) {
		did, err := resolver.ResolveHandle(ctx, m.Value)
		if err != nil {
			if !errors.Is(err, bluesky.ErrHandleNotFound) {
				logger.Warn("failed to resolve mention, skipping", "handle", m.Value, "error", err)
			}
			continue
		}
		out = append(out, bluesky.MentionFacet(m.Start, m.End, did))
	}

	for _, u := range FindURLs(text) {
		out = append(out, bluesky.LinkFacet(u.Start, u.End, u.Value))
	}

	for _, t := range FindTags(text) {
		out = append(out, bluesky.TagFacet(t.Start, t.End, t.Value))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Index.ByteStart < out[j].Index.ByteStart
	})
	return out
}
