// Package publish turns a normalized post into an app.bsky.feed.post record
// and writes it to the PDS.
package publish

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// MaxTextLength is the longest post text the destination accepts, counted
// in characters.
const MaxTextLength = 300

// tcoPattern matches the shortened links the source platform appends for
// media and quotes. They point back to the old platform and are dropped.
var tcoPattern = regexp.MustCompile(`https://t\.co/\S+`)

// ComposeText returns the text to publish for p: the source text without
// t.co links, followed by a note of when it was originally posted. The
// long note is used when it fits within MaxTextLength, otherwise the short
// one is appended regardless of length.
func ComposeText(p domain.Post) string {
	text := strings.TrimSpace(tcoPattern.ReplaceAllString(p.Text, ""))

	long := fmt.Sprintf("\n\nPosted at %s UTC", p.Timestamp())
	if utf8.RuneCountInString(text+long) <= MaxTextLength {
		return text + long
	}
	return fmt.Sprintf("%s\nPosted %s", text, p.Date())
}

// Attachment describes what a post will carry, for outcome lines.
func Attachment(p domain.Post, quote *domain.StrongRef) string {
	switch {
	case p.Media.IsVideo():
		return p.Media.Kind.String()
	case p.Media.IsPhoto():
		if n := len(p.Media.Files); n > 1 {
			return fmt.Sprintf("%d photos", n)
		}
		return "1 photo"
	case quote != nil && !quote.IsZero():
		return "quote"
	default:
		return "text"
	}
}
