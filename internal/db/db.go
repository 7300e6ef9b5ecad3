// Package db is the PostgreSQL attempt store. Each attempt context is kept
// as JSONB alongside an append-only transition log and a fix-attempt audit
// table.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the database at url and verifies the connection.
func Open(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the pool.
func (d *DB) Close() {
	d.pool.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS merge_attempts (
    id         TEXT PRIMARY KEY,
    branch     TEXT NOT NULL,
    target     TEXT NOT NULL,
    state      TEXT NOT NULL,
    head_sha   TEXT,
    approved   BOOLEAN,
    reason     TEXT,
    context    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_branch ON merge_attempts(branch, created_at DESC);

CREATE TABLE IF NOT EXISTS attempt_events (
    attempt_id TEXT NOT NULL REFERENCES merge_attempts(id) ON DELETE CASCADE,
    seq        INTEGER NOT NULL,
    from_state TEXT NOT NULL,
    to_state   TEXT NOT NULL,
    note       TEXT,
    at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (attempt_id, seq)
);

CREATE TABLE IF NOT EXISTS fix_attempts (
    attempt_id     TEXT NOT NULL REFERENCES merge_attempts(id) ON DELETE CASCADE,
    attempt_number INTEGER NOT NULL,
    category       TEXT NOT NULL,
    job            TEXT,
    strategy       TEXT NOT NULL,
    fingerprint    TEXT NOT NULL,
    resulting_sha  TEXT,
    outcome        TEXT NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (attempt_id, attempt_number)
);
CREATE INDEX IF NOT EXISTS idx_fix_category ON fix_attempts(category, outcome);
`

// Migrate applies the database schema.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset(ctx context.Context) error {
	tables := []string{"fix_attempts", "attempt_events", "merge_attempts", "schema_version"}
	for _, t := range tables {
		if _, err := d.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate(ctx)
}
