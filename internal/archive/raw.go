// Package archive reads a Twitter/X data export and turns its tweets into
// normalized posts ready for publishing.
package archive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CreatedAtLayout is the timestamp layout used by the export,
// e.g. "Wed Oct 16 22:18:35 +0000 2024".
const CreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// Record is one tweet as it appears in the export, after the "tweet"
// wrapper has been removed.
type Record struct {
	ID        flexString `json:"id"`
	IDStr     flexString `json:"id_str"`
	CreatedAt string     `json:"created_at"`
	FullText  string     `json:"full_text"`
	Truncated bool       `json:"truncated"`

	InReplyToStatusID flexString `json:"in_reply_to_status_id_str"`
	InReplyToUser     string     `json:"in_reply_to_screen_name"`

	Entities         Entities          `json:"entities"`
	ExtendedEntities *ExtendedEntities `json:"extended_entities,omitempty"`

	// ReplyMarked is set when the raw object carries any in_reply_to_*
	// key, whatever its value.
	ReplyMarked bool `json:"-"`
}

// Entities are the structured entities the export extracts from the text.
type Entities struct {
	Hashtags []struct {
		Text string `json:"text"`
	} `json:"hashtags"`
	UserMentions []struct {
		ScreenName string `json:"screen_name"`
	} `json:"user_mentions"`
	URLs []struct {
		ExpandedURL string `json:"expanded_url"`
	} `json:"urls"`
}

// ExtendedEntities holds the media attached to a tweet. It is present only
// when there is at least one media item.
type ExtendedEntities struct {
	Media []MediaEntity `json:"media"`
}

// MediaEntity is one attached photo, video or animated gif.
type MediaEntity struct {
	Type      string     `json:"type"`
	MediaURL  string     `json:"media_url"`
	VideoInfo *VideoInfo `json:"video_info,omitempty"`
}

// VideoInfo lists the encodings available for a video or gif.
type VideoInfo struct {
	Variants []Variant `json:"variants"`
}

// Variant is one encoding of a video. Streaming manifests carry no bitrate.
type Variant struct {
	ContentType string   `json:"content_type"`
	Bitrate     *flexInt `json:"bitrate,omitempty"`
	URL         string   `json:"url"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	if err := json.Unmarshal(data, (*plain)(r)); err != nil {
		return err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	for k := range keys {
		if strings.HasPrefix(k, "in_reply_to_") {
			r.ReplyMarked = true
			break
		}
	}
	return nil
}

// SourceID returns the tweet id as a string.
func (r Record) SourceID() string {
	if r.IDStr != "" {
		return string(r.IDStr)
	}
	return string(r.ID)
}

// Time parses the record's creation time.
func (r Record) Time() (time.Time, error) {
	t, err := time.Parse(CreatedAtLayout, r.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", r.CreatedAt, err)
	}
	return t, nil
}

// IsReply reports whether the record looks like a reply: it carries an
// in_reply_to_* field or its text opens with an @-mention.
func (r Record) IsReply() bool {
	return r.ReplyMarked || strings.HasPrefix(r.FullText, "@")
}

// flexString decodes from either a JSON string or a JSON number. Older
// exports write ids as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt decodes from either a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", b)
	}
	*f = flexInt(n)
	return nil
}
