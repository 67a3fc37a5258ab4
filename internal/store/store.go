// Package store is the relational domain model: contacts, profiles,
// conversation threads, disappearing-message configs, and interaction
// records. The replicated config layer references these rows, it never
// embeds them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	// dbDirPerm is the permission mode for the database directory.
	dbDirPerm = os.FileMode(0o700)
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
	id             TEXT PRIMARY KEY,
	is_approved    INTEGER NOT NULL DEFAULT 0,
	is_blocked     INTEGER NOT NULL DEFAULT 0,
	did_approve_me INTEGER NOT NULL DEFAULT 0,
	priority       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS profiles (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	nickname   TEXT NOT NULL DEFAULT '',
	avatar_url TEXT NOT NULL DEFAULT '',
	avatar_key BLOB
);

CREATE TABLE IF NOT EXISTS threads (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS disappearing_configs (
	thread_id        TEXT PRIMARY KEY,
	is_enabled       INTEGER NOT NULL DEFAULT 0,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	type             INTEGER NOT NULL DEFAULT 0,
	last_change_ts_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS interactions (
	id           TEXT PRIMARY KEY,
	thread_id    TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	variant      TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	timestamp_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_thread ON interactions(thread_id, timestamp_ms);
`

// DBTX is the querying surface shared by the root connection and an open
// transaction, so every entity method works in both scopes.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db DBTX
}

// Store wraps the sqlite database holding the relational domain model.
type Store struct {
	queries
	sqlDB *sql.DB
}

// Tx is an open transaction exposing the same entity methods as Store.
type Tx struct {
	queries
	tx *sql.Tx
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dbDirPerm); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; the pool must not
	// hand out a second connection with a second empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &Store{queries: queries{db: db}, sqlDB: db}, nil
}

// OpenInMemory opens an isolated in-memory database. Used by tests.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. Merge and upsert batches run under one WithTx so a failure
// partway through leaves no partial diff applied.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Tx{queries: queries{db: tx}, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}
