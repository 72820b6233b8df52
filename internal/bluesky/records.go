package bluesky

import (
	"encoding/json"
	"strings"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// PostCollection is the NSID of the post record collection.
const PostCollection = "app.bsky.feed.post"

const (
	facetMention = "app.bsky.richtext.facet#mention"
	facetLink    = "app.bsky.richtext.facet#link"
	facetTag     = "app.bsky.richtext.facet#tag"

	embedImages = "app.bsky.embed.images"
	embedVideo  = "app.bsky.embed.video"
	embedRecord = "app.bsky.embed.record"
)

// PostRecord is the record body for app.bsky.feed.post.
type PostRecord struct {
	Text      string  `json:"text"`
	CreatedAt string  `json:"createdAt"`
	Facets    []Facet `json:"facets,omitempty"`
	Embed     Embed   `json:"embed,omitempty"`
}

func (r PostRecord) MarshalJSON() ([]byte, error) {
	type record PostRecord
	return json.Marshal(struct {
		Type string `json:"$type"`
		record
	}{PostCollection, record(r)})
}

// Facet annotates a byte range of post text with a rich-text feature.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// ByteSlice is a half-open byte range over the UTF-8 encoded post text.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is one of a mention (DID), link (URI) or tag.
type FacetFeature struct {
	Type string `json:"$type"`
	DID  string `json:"did,omitempty"`
	URI  string `json:"uri,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// MentionFacet builds a mention facet pointing at did.
func MentionFacet(start, end int, did string) Facet {
	return Facet{
		Index:    ByteSlice{ByteStart: start, ByteEnd: end},
		Features: []FacetFeature{{Type: facetMention, DID: did}},
	}
}

// LinkFacet builds a link facet for uri.
func LinkFacet(start, end int, uri string) Facet {
	return Facet{
		Index:    ByteSlice{ByteStart: start, ByteEnd: end},
		Features: []FacetFeature{{Type: facetLink, URI: uri}},
	}
}

// TagFacet builds a hashtag facet; tag excludes the leading '#'.
func TagFacet(start, end int, tag string) Facet {
	return Facet{
		Index:    ByteSlice{ByteStart: start, ByteEnd: end},
		Features: []FacetFeature{{Type: facetTag, Tag: tag}},
	}
}

// Embed is the closed set of embeds a post can carry: *VideoEmbed,
// *ImagesEmbed or *RecordEmbed. A nil Embed means no embed.
type Embed interface {
	embedType() string
}

// VideoEmbed attaches a single uploaded video.
type VideoEmbed struct {
	Video BlobRef `json:"video"`
}

func (*VideoEmbed) embedType() string { return embedVideo }

func (e *VideoEmbed) MarshalJSON() ([]byte, error) {
	type embed VideoEmbed
	return json.Marshal(struct {
		Type string `json:"$type"`
		embed
	}{embedVideo, embed(*e)})
}

// ImagesEmbed attaches a gallery of uploaded images.
type ImagesEmbed struct {
	Images []Image `json:"images"`
}

// Image is one gallery entry.
type Image struct {
	Alt   string  `json:"alt"`
	Image BlobRef `json:"image"`
}

func (*ImagesEmbed) embedType() string { return embedImages }

func (e *ImagesEmbed) MarshalJSON() ([]byte, error) {
	type embed ImagesEmbed
	return json.Marshal(struct {
		Type string `json:"$type"`
		embed
	}{embedImages, embed(*e)})
}

// RecordEmbed quotes another record by strong reference.
type RecordEmbed struct {
	Record domain.StrongRef `json:"record"`
}

func (*RecordEmbed) embedType() string { return embedRecord }

func (e *RecordEmbed) MarshalJSON() ([]byte, error) {
	type embed RecordEmbed
	return json.Marshal(struct {
		Type string `json:"$type"`
		embed
	}{embedRecord, embed(*e)})
}

// WebURL converts an at:// post URI into its bsky.app web address. Other
// URIs are returned unchanged.
//
//	at://did:plc:abc/app.bsky.feed.post/3k2 -> https://bsky.app/profile/did:plc:abc/post/3k2
func WebURL(uri string) string {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return uri
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != PostCollection {
		return uri
	}
	return "https://bsky.app/profile/" + parts[0] + "/post/" + parts[2]
}
