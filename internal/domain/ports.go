package domain

import (
	"context"
	"time"
)

// CheckpointStore persists the timestamp of the most recently published
// source post so an interrupted migration can resume.
type CheckpointStore interface {
	// Load returns the saved checkpoint. ok is false if none has been saved.
	Load(ctx context.Context) (ts time.Time, ok bool, err error)

	// Save replaces the checkpoint with ts.
	Save(ctx context.Context, ts time.Time) error
}

// Ledger remembers which source posts already exist on the destination and
// under which remote identifiers.
type Ledger interface {
	// Lookup returns the remote reference for a source post id.
	Lookup(ctx context.Context, sourceID string) (ref StrongRef, ok bool, err error)

	// Record stores the remote reference for a source post id.
	Record(ctx context.Context, sourceID string, ref StrongRef) error
}
