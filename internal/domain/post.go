package domain

import "time"

// TimestampLayout is the canonical UTC timestamp form used for normalized
// posts and for the persisted checkpoint.
const TimestampLayout = "2006-01-02 15:04:05"

// MaxImages is the most images a single post may carry.
const MaxImages = 4

// MediaKind describes what kind of media is attached to a post.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaGIF
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaGIF:
		return "gif"
	default:
		return "none"
	}
}

// Media is the set of local media files attached to a post. It holds either
// up to MaxImages photos or exactly one video/gif, never both.
type Media struct {
	Kind  MediaKind
	Files []string
}

// NewPhotoMedia returns photo media for the given files, capped at MaxImages.
func NewPhotoMedia(files ...string) Media {
	if len(files) == 0 {
		return Media{}
	}
	if len(files) > MaxImages {
		files = files[:MaxImages]
	}
	return Media{Kind: MediaPhoto, Files: append([]string(nil), files...)}
}

// NewVideoMedia returns single-file video or gif media.
func NewVideoMedia(kind MediaKind, file string) Media {
	if kind != MediaGIF {
		kind = MediaVideo
	}
	return Media{Kind: kind, Files: []string{file}}
}

// IsVideo reports whether the media is a video or animated gif.
func (m Media) IsVideo() bool {
	return (m.Kind == MediaVideo || m.Kind == MediaGIF) && len(m.Files) > 0
}

// IsPhoto reports whether the media is one or more photos.
func (m Media) IsPhoto() bool {
	return m.Kind == MediaPhoto && len(m.Files) > 0
}

// Post is a source archive post normalized into the canonical form used by
// the publishing pipeline. Posts are built once during ingestion and not
// mutated afterwards.
type Post struct {
	// ID is the source platform's post id.
	ID string

	// CreatedAt is the original creation time, in UTC.
	CreatedAt time.Time

	// Text is the full source text.
	Text string

	// Truncated mirrors the source truncation flag.
	Truncated bool

	// InReplyTo is the id of the post this one replies to, if any.
	InReplyTo string

	Media    Media
	Hashtags []string
	Mentions []string
	URLs     []string

	// Quoted is the post this one quotes, if known. Ingestion does not
	// populate it; callers that know the relationship attach it with
	// WithQuote.
	Quoted *Post
}

// Timestamp returns the canonical UTC form of CreatedAt.
func (p Post) Timestamp() string {
	return p.CreatedAt.UTC().Format(TimestampLayout)
}

// Date returns the UTC date portion of CreatedAt.
func (p Post) Date() string {
	return p.CreatedAt.UTC().Format("2006-01-02")
}

// WithQuote returns a copy of p that quotes q.
func (p Post) WithQuote(q Post) Post {
	p.Quoted = &q
	return p
}

// WithoutQuote returns a copy of p with the quote reference dropped.
func (p Post) WithoutQuote() Post {
	p.Quoted = nil
	return p
}

// StrongRef identifies a specific version of a record on the destination.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// IsZero reports whether the reference is unset.
func (r StrongRef) IsZero() bool {
	return r.URI == "" && r.CID == ""
}
