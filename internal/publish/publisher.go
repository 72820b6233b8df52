package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
	"github.com/blackmichael/bluesky-migrate/internal/domain"
	"github.com/blackmichael/bluesky-migrate/internal/facets"
)

// RecordClient is the part of the PDS client the publisher needs.
type RecordClient interface {
	facets.HandleResolver
	CreateRecord(ctx context.Context, token, repo, collection string, record any) (domain.StrongRef, error)
}

// MediaUploader uploads a post's media files.
type MediaUploader interface {
	UploadImage(ctx context.Context, token, name string) (*bluesky.BlobRef, error)
	UploadVideo(ctx context.Context, name string) (*bluesky.BlobRef, error)
}

// PublishError reports a post that could not be created.
type PublishError struct {
	PostID string
	Op     string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %s: %v", e.PostID, e.Op, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Result describes a created post.
type Result struct {
	Ref        domain.StrongRef
	Text       string
	Attachment string
	Facets     int

	// MediaErrors holds the uploads that failed and were left out.
	MediaErrors []error
}

// Publisher creates posts on the PDS.
type Publisher struct {
	client  RecordClient
	session *bluesky.SessionManager
	media   MediaUploader
	logger  *slog.Logger
	now     func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(client RecordClient, session *bluesky.SessionManager, media MediaUploader, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		session: session,
		media:   media,
		logger:  logger,
		now:     time.Now,
	}
}

// CreatePost publishes post. If quote is set and the post has no media of
// its own, the post embeds it as a quote. The record's createdAt is the
// time of publishing; the original time is part of the text.
func (p *Publisher) CreatePost(ctx context.Context, post domain.Post, quote *domain.StrongRef) (*Result, error) {
	sess, err := p.session.GetOrCreate(ctx)
	if err != nil {
		return nil, &PublishError{PostID: post.ID, Op: "session", Err: err}
	}

	text := ComposeText(post)
	record := bluesky.PostRecord{
		Text:      text,
		CreatedAt: p.now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Facets:    facets.Build(ctx, text, p.client, p.logger),
	}

	res := &Result{Text: text, Facets: len(record.Facets)}
	record.Embed, res.Attachment, res.MediaErrors = p.embedFor(ctx, &sess, post, quote)

	ref, err := p.client.CreateRecord(ctx, sess.AccessJwt, sess.DID, bluesky.PostCollection, record)
	if err != nil {
		if bluesky.IsUnauthorized(err) {
			p.logger.Warn("access token rejected, dropping session", "did", sess.DID)
			p.session.Invalidate(sess)
		}
		return nil, &PublishError{PostID: post.ID, Op: "create record", Err: err}
	}

	res.Ref = ref
	return res, nil
}

// embedFor selects at most one embed, in priority order video, images,
// quote. A failed video upload leaves the post without an embed; failed
// images are left out of the gallery. A rejected token is replaced in
// *sess before the remaining uploads.
func (p *Publisher) embedFor(ctx context.Context, sess **bluesky.Session, post domain.Post, quote *domain.StrongRef) (bluesky.Embed, string, []error) {
	switch {
	case post.Media.IsVideo():
		name := post.Media.Files[0]
		blob, err := p.media.UploadVideo(ctx, name)
		if err != nil {
			p.logger.Warn("video upload failed, posting without it", "post_id", post.ID, "file", name, "error", err)
			return nil, "text", []error{err}
		}
		return &bluesky.VideoEmbed{Video: *blob}, post.Media.Kind.String(), nil

	case post.Media.IsPhoto():
		var (
			images []bluesky.Image
			errs   []error
		)
		for _, name := range post.Media.Files {
			blob, err := p.media.UploadImage(ctx, (*sess).AccessJwt, name)
			if err != nil {
				p.logger.Warn("image upload failed, skipping", "post_id", post.ID, "file", name, "error", err)
				errs = append(errs, err)
				if bluesky.IsUnauthorized(err) {
					p.session.Invalidate(*sess)
					fresh, err := p.session.GetOrCreate(ctx)
					if err != nil {
						errs = append(errs, err)
						break
					}
					*sess = fresh
				}
				continue
			}
			images = append(images, bluesky.Image{Image: *blob})
		}
		if len(images) == 0 {
			return nil, "text", errs
		}
		desc := "1 photo"
		if len(images) > 1 {
			desc = fmt.Sprintf("%d photos", len(images))
		}
		return &bluesky.ImagesEmbed{Images: images}, desc, errs

	case quote != nil && !quote.IsZero():
		return &bluesky.RecordEmbed{Record: *quote}, "quote", nil

	default:
		return nil, "text", nil
	}
}
