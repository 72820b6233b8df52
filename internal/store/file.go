// Package store holds the file and in-memory implementations of the
// checkpoint store and the publish ledger.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// File keeps the checkpoint as a single line of text,
// "2006-01-02 15:04:05" in UTC.
type File struct {
	path string
}

// NewFile returns a checkpoint store backed by the file at path. The file
// is created on the first Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(_ context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		return time.Time{}, false, nil
	}
	ts, err := time.ParseInLocation(domain.TimestampLayout, line, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %q: %w", line, err)
	}
	return ts, true, nil
}

// Save replaces the file contents through a rename, so a crash leaves
// either the old or the new value.
func (f *File) Save(_ context.Context, ts time.Time) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(ts.UTC().Format(domain.TimestampLayout)); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
