package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// MetadataFile is the conventional name for exported post metadata,
// written next to tweets.js.
const MetadataFile = "tweet_metadata.json"

// ExportedPost is the JSON form of a normalized post.
type ExportedPost struct {
	Timestamp      string   `json:"timestamp"`
	ID             string   `json:"tweet_id"`
	Text           string   `json:"text"`
	Truncated      bool     `json:"truncated"`
	InReplyTo      string   `json:"in_reply_to,omitempty"`
	MediaType      string   `json:"media_type"`
	MediaFilenames []string `json:"media_filenames"`
	Hashtags       []string `json:"hashtags"`
	Mentions       []string `json:"mentions"`
	URLs           []string `json:"urls"`
}

func exported(p domain.Post) ExportedPost {
	e := ExportedPost{
		Timestamp:      p.Timestamp(),
		ID:             p.ID,
		Text:           p.Text,
		Truncated:      p.Truncated,
		InReplyTo:      p.InReplyTo,
		MediaFilenames: nonNil(p.Media.Files),
		Hashtags:       nonNil(p.Hashtags),
		Mentions:       nonNil(p.Mentions),
		URLs:           nonNil(p.URLs),
	}
	if p.Media.Kind != domain.MediaNone {
		e.MediaType = p.Media.Kind.String()
	}
	return e
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// WriteMetadata writes posts to w as an indented JSON array.
func WriteMetadata(w io.Writer, posts []domain.Post) error {
	out := make([]ExportedPost, 0, len(posts))
	for _, p := range posts {
		out = append(out, exported(p))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(out)
}

// ExportMetadata writes posts to the file at path, replacing it.
func ExportMetadata(path string, posts []domain.Post) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteMetadata(f, posts); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
