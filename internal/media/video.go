package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
)

// RawBlobClient uploads bytes and returns the undecoded blob object.
type RawBlobClient interface {
	UploadBlobRaw(ctx context.Context, token string, data []byte, mimeType string) (json.RawMessage, error)
}

// VideoChannel uploads videos on a login of its own, separate from the
// session used for posting.
type VideoChannel struct {
	client  RawBlobClient
	session *bluesky.SessionManager
	logger  *slog.Logger
}

// NewVideoChannel creates a VideoChannel that authenticates through session.
func NewVideoChannel(client RawBlobClient, session *bluesky.SessionManager, logger *slog.Logger) *VideoChannel {
	return &VideoChannel{
		client:  client,
		session: session,
		logger:  logger,
	}
}

// Upload uploads the video at path and returns its blob in the minimal
// {$type, ref, mimeType, size} form. Any other fields in the upload
// response are dropped.
func (c *VideoChannel) Upload(ctx context.Context, path string) (*bluesky.BlobRef, error) {
	name := filepath.Base(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, notFound(name, err)
	}

	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "video/") && !strings.HasPrefix(mimeType, "image/gif") {
		mimeType = "video/mp4"
	}

	sess, err := c.session.GetOrCreate(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload video %s: %w", name, err)
	}

	c.logger.Info("uploading video", "file", name, "size", len(data))
	raw, err := c.client.UploadBlobRaw(ctx, sess.AccessJwt, data, mimeType)
	if err != nil {
		if bluesky.IsUnauthorized(err) {
			c.session.Invalidate(sess)
		}
		return nil, fmt.Errorf("upload video %s: %w", name, err)
	}

	blob, err := minimalBlob(raw, mimeType, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("upload video %s: %w", name, err)
	}
	return blob, nil
}

// minimalBlob re-derives the lexicon blob shape from an upload response.
// Legacy {cid, mimeType} blobs are converted; missing mimeType or size are
// filled from what was sent.
func minimalBlob(raw json.RawMessage, mimeType string, size int64) (*bluesky.BlobRef, error) {
	var b struct {
		Ref struct {
			Link string `json:"$link"`
		} `json:"ref"`
		CID      string `json:"cid"`
		MimeType string `json:"mimeType"`
		Size     int64  `json:"size"`
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}

	link := b.Ref.Link
	if link == "" {
		link = b.CID
	}
	if link == "" {
		return nil, fmt.Errorf("blob has no content reference")
	}
	if b.MimeType != "" {
		mimeType = b.MimeType
	}
	if b.Size > 0 {
		size = b.Size
	}

	ref := bluesky.NewBlobRef(link, mimeType, size)
	return &ref, nil
}
