package facets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindMentions(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Span
	}{
		{
			name: "mid text",
			text: "hi @alice.example.com!",
			want: []Span{{Start: 4, End: 21, Value: "alice.example.com"}},
		},
		{
			name: "start of text",
			text: "@bob.bsky.social hello",
			want: []Span{{Start: 1, End: 16, Value: "bob.bsky.social"}},
		},
		{
			name: "email address is not a mention",
			text: "mail me at carol@example.com",
		},
		{
			name: "bare handle without domain",
			text: "thanks @dave",
		},
		{
			name: "two mentions",
			text: "@a.com and @b.org",
			want: []Span{
				{Start: 1, End: 6, Value: "a.com"},
				{Start: 12, End: 17, Value: "b.org"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindMentions(tt.text))
		})
	}
}

func TestFindURLs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Span
	}{
		{
			name: "with path",
			text: "see https://example.com/a/b?c=1 now",
			want: []Span{{Start: 4, End: 31, Value: "https://example.com/a/b?c=1"}},
		},
		{
			name: "start of text",
			text: "http://www.example.org",
			want: []Span{{Start: 0, End: 22, Value: "http://www.example.org"}},
		},
		{
			name: "trailing punctuation excluded",
			text: "go to https://example.com/x.",
			want: []Span{{Start: 6, End: 27, Value: "https://example.com/x"}},
		},
		{
			name: "glued to a word",
			text: "xhttps://example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindURLs(tt.text))
		})
	}
}

func TestFindTags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Span
	}{
		{
			name: "two tags",
			text: "#go and #rust_lang",
			want: []Span{
				{Start: 1, End: 3, Value: "go"},
				{Start: 9, End: 18, Value: "rust_lang"},
			},
		},
		{
			name: "inside a word",
			text: "issue#42",
		},
		{
			name: "bare marker",
			text: "# heading",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindTags(tt.text))
		})
	}
}

func TestSpansAreByteOffsets(t *testing.T) {
	// "café " is 6 bytes but 5 runes
	text := "café #ok"

	tags := FindTags(text)
	if assert.Len(t, tags, 1) {
		assert.Equal(t, Span{Start: 7, End: 9, Value: "ok"}, tags[0])
		assert.Equal(t, "ok", text[tags[0].Start:tags[0].End])
	}

	mentions := FindMentions("日本 @alice.example.com")
	if assert.Len(t, mentions, 1) {
		m := mentions[0]
		assert.Equal(t, 8, m.Start)
		assert.Equal(t, "alice.example.com", "日本 @alice.example.com"[m.Start:m.End])
	}
}
