package archive

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// Stats summarizes a set of posts.
type Stats struct {
	Count    int
	Earliest time.Time
	Latest   time.Time

	// AverageLength is the mean text length in characters.
	AverageLength float64

	Replies  int
	Hashtags int
	Mentions int

	// Days is the inclusive number of calendar days (UTC) between the
	// earliest and latest post.
	Days        int
	PostsPerDay float64
}

// ComputeStats summarizes posts. An empty input yields zero Stats.
func ComputeStats(posts []domain.Post) Stats {
	var s Stats
	if len(posts) == 0 {
		return s
	}

	s.Count = len(posts)
	s.Earliest = posts[0].CreatedAt
	s.Latest = posts[0].CreatedAt

	var chars int
	for _, p := range posts {
		if p.CreatedAt.Before(s.Earliest) {
			s.Earliest = p.CreatedAt
		}
		if p.CreatedAt.After(s.Latest) {
			s.Latest = p.CreatedAt
		}
		chars += utf8.RuneCountInString(p.Text)
		if p.InReplyTo != "" || strings.HasPrefix(p.Text, "@") {
			s.Replies++
		}
		s.Hashtags += len(p.Hashtags)
		s.Mentions += len(p.Mentions)
	}

	s.AverageLength = float64(chars) / float64(s.Count)
	s.Days = daysBetween(s.Earliest, s.Latest) + 1
	s.PostsPerDay = float64(s.Count) / float64(s.Days)
	return s
}

// Years returns the span in years, as a rough figure for display.
func (s Stats) Years() float64 {
	return float64(s.Days) / 365
}

func daysBetween(a, b time.Time) int {
	da := time.Date(a.UTC().Year(), a.UTC().Month(), a.UTC().Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.UTC().Year(), b.UTC().Month(), b.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
