package archive

import (
	"html"
	"log/slog"
	"path"
	"strings"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// Normalize converts records into posts. Records whose creation time
// cannot be parsed are skipped with a warning.
func Normalize(records []Record, logger *slog.Logger) []domain.Post {
	posts := make([]domain.Post, 0, len(records))
	for _, r := range records {
		p, ok := normalizeRecord(r, logger)
		if !ok {
			continue
		}
		posts = append(posts, p)
	}
	return posts
}

func normalizeRecord(r Record, logger *slog.Logger) (domain.Post, bool) {
	id := r.SourceID()

	created, err := r.Time()
	if err != nil {
		logger.Warn("skipping tweet with bad timestamp", "tweet_id", id, "error", err)
		return domain.Post{}, false
	}

	p := domain.Post{
		ID:        id,
		CreatedAt: created.UTC(),
		Text:      html.UnescapeString(r.FullText),
		Truncated: r.Truncated,
		InReplyTo: string(r.InReplyToStatusID),
		Media:     mediaFor(id, r.ExtendedEntities, logger),
	}
	if p.InReplyTo == "" && r.ReplyMarked {
		p.InReplyTo = r.InReplyToUser
	}

	for _, h := range r.Entities.Hashtags {
		p.Hashtags = append(p.Hashtags, h.Text)
	}
	for _, m := range r.Entities.UserMentions {
		p.Mentions = append(p.Mentions, m.ScreenName)
	}
	for _, u := range r.Entities.URLs {
		p.URLs = append(p.URLs, u.ExpandedURL)
	}

	return p, true
}

// mediaFor builds the local media refs for a tweet. Photo refs are
// "<id>-<basename of media_url>"; a video or gif becomes one ref for its
// best mp4 encoding.
func mediaFor(id string, ext *ExtendedEntities, logger *slog.Logger) domain.Media {
	if ext == nil {
		return domain.Media{}
	}

	var photos []string
	for _, m := range ext.Media {
		switch m.Type {
		case "video", "animated_gif":
			kind := domain.MediaVideo
			if m.Type == "animated_gif" {
				kind = domain.MediaGIF
			}
			v, ok := bestVariant(m.VideoInfo)
			if !ok {
				logger.Warn("no suitable mp4 variant, posting without media", "tweet_id", id, "type", m.Type)
				return domain.Media{}
			}
			return domain.NewVideoMedia(kind, id+"-"+fileName(v.URL))
		case "photo":
			photos = append(photos, id+"-"+fileName(m.MediaURL))
		}
	}
	return domain.NewPhotoMedia(photos...)
}

// bestVariant returns the video/mp4 variant with the highest declared
// bitrate. Variants without a bitrate, such as HLS manifests, are ignored.
func bestVariant(info *VideoInfo) (Variant, bool) {
	if info == nil {
		return Variant{}, false
	}
	var (
		best  Variant
		found bool
	)
	for _, v := range info.Variants {
		if v.ContentType != "video/mp4" || v.Bitrate == nil {
			continue
		}
		if !found || *v.Bitrate > *best.Bitrate {
			best, found = v, true
		}
	}
	return best, found
}

// fileName returns the last path element of a URL without its query.
func fileName(rawURL string) string {
	u, _, _ := strings.Cut(rawURL, "?")
	return path.Base(u)
}
