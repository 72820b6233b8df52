package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ErrMalformedArchive is returned when the export cannot be decoded.
var ErrMalformedArchive = errors.New("malformed archive")

// TweetsPath returns the location of the tweets file inside an export's
// data folder.
func TweetsPath(dataRoot string) string {
	return filepath.Join(dataRoot, "tweets.js")
}

// MediaDir returns the folder holding the media files of an export.
func MediaDir(dataRoot string) string {
	return filepath.Join(dataRoot, "tweets_media")
}

// Load reads the export at path. The file is a JavaScript assignment
// ("window.YTD.tweets.part0 = [...]"); everything before the first '[' is
// ignored and each array element's "tweet" object is returned.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	start := bytes.IndexByte(data, '[')
	if start < 0 {
		return nil, fmt.Errorf("%w: %s: no JSON array found", ErrMalformedArchive, path)
	}

	var wrapped []struct {
		Tweet *Record `json:"tweet"`
	}
	if err := json.Unmarshal(data[start:], &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArchive, path, err)
	}

	records := make([]Record, 0, len(wrapped))
	for i, w := range wrapped {
		if w.Tweet == nil {
			return nil, fmt.Errorf("%w: %s: element %d has no tweet", ErrMalformedArchive, path, i)
		}
		records = append(records, *w.Tweet)
	}
	return records, nil
}

// LoadBestEffort is Load for callers that treat ingestion as optional: a
// failure is logged and an empty slice returned.
func LoadBestEffort(path string, logger *slog.Logger) []Record {
	records, err := Load(path)
	if err != nil {
		logger.Error("failed to load archive", "path", path, "error", err)
		return []Record{}
	}
	logger.Info("loaded archive", "path", path, "records", len(records))
	return records
}

// SortChronological orders records by creation time, oldest first.
// Records with an unparseable time sort first and keep their relative
// order; normalization drops them.
func SortChronological(records []Record) {
	type keyed struct {
		t time.Time
		r Record
	}
	ks := make([]keyed, len(records))
	for i, r := range records {
		t, _ := r.Time()
		ks[i] = keyed{t: t, r: r}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		return ks[i].t.Before(ks[j].t)
	})
	for i := range ks {
		records[i] = ks[i].r
	}
}
