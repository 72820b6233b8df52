// Package facets finds mentions, links and hashtags in post text and turns
// them into rich-text facets addressed by UTF-8 byte offsets.
package facets

import "regexp"

// Each pattern requires the match to start the text or follow a non-word
// character. Group 1 is the matched token including its marker.
var (
	mentionPattern = regexp.MustCompile(`(?:^|[$|\W])(@([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)`)
	urlPattern     = regexp.MustCompile(`(?:^|[$|\W])(https?://(www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_\+.~#?&/=]*[-a-zA-Z0-9@%_\+~#/=])?)`)
	tagPattern     = regexp.MustCompile(`(?:^|[$|\W])(#([a-zA-Z0-9_]+))`)
)

// Span is a half-open byte range [Start, End) over the UTF-8 text and the
// value found there.
type Span struct {
	Start int
	End   int
	Value string
}

// FindMentions returns the handles mentioned in text. Spans cover the
// handle without its leading '@'.
func FindMentions(text string) []Span {
	return scan(mentionPattern, text, 1)
}

// FindURLs returns the http(s) URLs in text. Spans cover the full URL.
func FindURLs(text string) []Span {
	return scan(urlPattern, text, 0)
}

// FindTags returns the hashtags in text. Spans cover the tag without its
// leading '#'.
func FindTags(text string) []Span {
	return scan(tagPattern, text, 1)
}

// scan runs re over the bytes of text and reports group 1 of every match,
// skipping skip leading marker bytes.
func scan(re *regexp.Regexp, text string, skip int) []Span {
	b := []byte(text)
	var spans []Span
	for _, m := range re.FindAllSubmatchIndex(b, -1) {
		start, end := m[2]+skip, m[3]
		if start >= end {
			continue
		}
		spans = append(spans, Span{
			Start: start,
			End:   end,
			Value: string(b[start:end]),
		})
	}
	return spans
}
