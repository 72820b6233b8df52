package store

import (
	"context"
	"sync"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

// MemoryLedger is a domain.Ledger that lives for one run.
type MemoryLedger struct {
	mu   sync.RWMutex
	refs map[string]domain.StrongRef
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{refs: make(map[string]domain.StrongRef)}
}

func (l *MemoryLedger) Lookup(_ context.Context, sourceID string) (domain.StrongRef, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ref, ok := l.refs[sourceID]
	return ref, ok, nil
}

func (l *MemoryLedger) Record(_ context.Context, sourceID string, ref domain.StrongRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refs[sourceID] = ref
	return nil
}

// Len returns the number of recorded posts.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.refs)
}
