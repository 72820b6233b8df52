// Package media uploads the local files referenced by archive posts as
// blobs on the destination PDS.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/blackmichael/bluesky-migrate/internal/bluesky"
)

// MaxImageSize is the largest image blob the PDS accepts, in bytes.
const MaxImageSize = 1_000_000

const fallbackImageType = "image/jpeg"

// ErrNotFound is returned when a referenced media file does not exist.
var ErrNotFound = errors.New("media file not found")

// SizeLimitError is returned for a file larger than the upload limit.
type SizeLimitError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s is %s, over the %s limit",
		e.Name, humanize.Bytes(uint64(e.Size)), humanize.Bytes(uint64(e.Limit)))
}

// BlobClient uploads raw bytes to the PDS.
type BlobClient interface {
	UploadBlob(ctx context.Context, token string, data []byte, mimeType string) (*bluesky.BlobRef, error)
}

// Uploader resolves media refs inside the export's media folder and
// uploads them.
type Uploader struct {
	dir    string
	client BlobClient
	videos *VideoChannel
	logger *slog.Logger
}

// NewUploader creates an Uploader for files under dir. Video uploads go
// through videos.
func NewUploader(dir string, client BlobClient, videos *VideoChannel, logger *slog.Logger) *Uploader {
	return &Uploader{
		dir:    dir,
		client: client,
		videos: videos,
		logger: logger,
	}
}

// Path returns the local path of a media ref.
func (u *Uploader) Path(name string) string {
	return filepath.Join(u.dir, name)
}

// Size returns the size of a media file in bytes.
func (u *Uploader) Size(name string) (int64, error) {
	info, err := os.Stat(u.Path(name))
	if err != nil {
		return 0, notFound(name, err)
	}
	return info.Size(), nil
}

// UploadImage uploads one image with the given access token. The MIME type
// is sniffed from the content; anything not recognised as an image is sent
// as image/jpeg.
func (u *Uploader) UploadImage(ctx context.Context, token, name string) (*bluesky.BlobRef, error) {
	data, err := os.ReadFile(u.Path(name))
	if err != nil {
		return nil, notFound(name, err)
	}
	if len(data) > MaxImageSize {
		return nil, &SizeLimitError{Name: name, Size: int64(len(data)), Limit: MaxImageSize}
	}

	mimeType := mimetype.Detect(data).String()
	if !strings.HasPrefix(mimeType, "image/") {
		u.logger.Warn("could not detect image type, defaulting", "file", name, "detected", mimeType, "using", fallbackImageType)
		mimeType = fallbackImageType
	}

	blob, err := u.client.UploadBlob(ctx, token, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("upload image %s: %w", name, err)
	}
	u.logger.Debug("uploaded image", "file", name, "size", humanize.Bytes(uint64(len(data))), "cid", blob.Ref.Link)
	return blob, nil
}

// UploadVideo uploads a video or gif through the video channel.
func (u *Uploader) UploadVideo(ctx context.Context, name string) (*bluesky.BlobRef, error) {
	if u.videos == nil {
		return nil, fmt.Errorf("upload video %s: no video channel configured", name)
	}
	return u.videos.Upload(ctx, u.Path(name))
}

func notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return fmt.Errorf("read media %s: %w", name, err)
}
