// Package sqlite persists the checkpoint and the publish ledger in a local
// SQLite database, so quoted posts published in an earlier run are found
// again.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

const checkpointName = "migrate"

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS published (
	source_id    TEXT PRIMARY KEY,
	uri          TEXT NOT NULL,
	cid          TEXT NOT NULL,
	published_at TEXT NOT NULL
);`

// Repository implements domain.CheckpointStore and domain.Ledger using
// SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if needed) the database at path and applies
// the schema. The caller should call Close when the repository is no
// longer needed.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time; publishes complete concurrently
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Load returns the saved checkpoint.
func (r *Repository) Load(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM checkpoints WHERE name = ?`, checkpointName,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query checkpoint: %w", err)
	}

	ts, err := time.ParseInLocation(domain.TimestampLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %q: %w", value, err)
	}
	return ts, true, nil
}

// Save upserts the checkpoint.
func (r *Repository) Save(ctx context.Context, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		checkpointName,
		ts.UTC().Format(domain.TimestampLayout),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Lookup returns the remote reference recorded for a source post.
func (r *Repository) Lookup(ctx context.Context, sourceID string) (domain.StrongRef, bool, error) {
	var ref domain.StrongRef
	err := r.db.QueryRowContext(ctx,
		`SELECT uri, cid FROM published WHERE source_id = ?`, sourceID,
	).Scan(&ref.URI, &ref.CID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StrongRef{}, false, nil
	}
	if err != nil {
		return domain.StrongRef{}, false, fmt.Errorf("lookup %s: %w", sourceID, err)
	}
	return ref, true, nil
}

// Record stores the remote reference for a source post, replacing any
// earlier one.
func (r *Repository) Record(ctx context.Context, sourceID string, ref domain.StrongRef) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO published (source_id, uri, cid, published_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id) DO UPDATE SET uri = excluded.uri, cid = excluded.cid, published_at = excluded.published_at`,
		sourceID, ref.URI, ref.CID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", sourceID, err)
	}
	return nil
}

// CountPublished returns the number of posts in the ledger.
func (r *Repository) CountPublished(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM published`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count published: %w", err)
	}
	return n, nil
}
