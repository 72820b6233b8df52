package store

import (
	"context"
	"sync"
	"time"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// Monotonic wraps a checkpoint store so the saved value never moves
// backwards. Publishes finish out of order; a late save for an older post
// is dropped.
type Monotonic struct {
	store domain.CheckpointStore

	mu     sync.Mutex
	last   time.Time
	primed bool
}

// NewMonotonic wraps store.
func NewMonotonic(store domain.CheckpointStore) *Monotonic {
	return &Monotonic{store: store}
}

func (m *Monotonic) Load(ctx context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts, ok, err := m.store.Load(ctx)
	if err != nil {
		return ts, ok, err
	}
	m.primed = true
	if ok && ts.After(m.last) {
		m.last = ts
	}
	return ts, ok, nil
}

// Save stores ts unless a later value has already been saved. Saves are
// serialized.
func (m *Monotonic) Save(ctx context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.primed {
		prev, ok, err := m.store.Load(ctx)
		if err != nil {
			return err
		}
		m.primed = true
		if ok {
			m.last = prev
		}
	}

	if !m.last.IsZero() && !ts.After(m.last) {
		return nil
	}
	if err := m.store.Save(ctx, ts); err != nil {
		return err
	}
	m.last = ts
	return nil
}
