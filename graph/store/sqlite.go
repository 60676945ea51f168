package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Checkpointer backed by a single SQLite file.
//
// It uses the pure-Go modernc.org/sqlite driver, so no cgo is required.
// The database runs in WAL mode with synchronous=FULL, which makes every
// committed Save durable before it returns. A single connection serializes
// writers, matching SQLite's one-writer model.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./meetgraph.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1)    // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)    // Keep connection open
	db.SetConnMaxLifetime(0) // No max lifetime for SQLite

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close() // Ignore close error when returning pragma error
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := execAll(ctx, db, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteStore{
		sqlStore: sqlStore{db: db, dialect: dialectSQLite},
		path:     path,
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meetgraph_checkpoints (
		job_id TEXT NOT NULL PRIMARY KEY,
		status TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		step INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		pending TEXT,
		decision TEXT,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meetgraph_checkpoints_status ON meetgraph_checkpoints(status)`,
	`CREATE INDEX IF NOT EXISTS idx_meetgraph_checkpoints_updated ON meetgraph_checkpoints(updated_at)`,
}
