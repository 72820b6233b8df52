package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo, path
}

func TestCheckpoint(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 10, 16, 22, 18, 35, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, ts))
	require.NoError(t, repo.Save(ctx, ts.Add(time.Minute)))

	got, ok, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Add(time.Minute).Equal(got))
}

func TestLedger(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, ok, err := repo.Lookup(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	ref := domain.StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/1", CID: "bafy1"}
	require.NoError(t, repo.Record(ctx, "42", ref))

	got, ok, err := repo.Lookup(ctx, "42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ref, got)

	updated := domain.StrongRef{URI: "at://did:plc:a/app.bsky.feed.post/2", CID: "bafy2"}
	require.NoError(t, repo.Record(ctx, "42", updated))
	got, _, err = repo.Lookup(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	n, err := repo.CountPublished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPersistsAcrossReopen(t *testing.T) {
	repo, path := newTestRepository(t)
	ctx := context.Background()

	ts := time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Save(ctx, ts))
	require.NoError(t, repo.Record(ctx, "7", domain.StrongRef{URI: "at://x/app.bsky.feed.post/7", CID: "c7"}))
	require.NoError(t, repo.Close())

	reopened, err := NewRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))

	_, ok, err = reopened.Lookup(ctx, "7")
	require.NoError(t, err)
	assert.True(t, ok)
}

// Repository satisfies both ports.
var (
	_ domain.CheckpointStore = (*Repository)(nil)
	_ domain.Ledger          = (*Repository)(nil)
)
