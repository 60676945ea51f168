package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name string

	// numbered placeholders ($1, $2, ...) instead of ?.
	numbered bool

	// insertIgnore is the statement prefix/suffix pair for an insert that
	// silently skips an existing key.
	insertPrefix string
	insertSuffix string
}

var (
	dialectSQLite = dialect{
		name:         "sqlite",
		insertPrefix: "INSERT INTO",
		insertSuffix: " ON CONFLICT(job_id) DO NOTHING",
	}
	dialectMySQL = dialect{
		name:         "mysql",
		insertPrefix: "INSERT IGNORE INTO",
	}
	dialectPostgres = dialect{
		name:         "postgres",
		numbered:     true,
		insertPrefix: "INSERT INTO",
		insertSuffix: " ON CONFLICT (job_id) DO NOTHING",
	}
)

// bind rewrites ? placeholders for dialects that number them.
func (d dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const checkpointColumns = "job_id, status, stage, step, state, pending, decision, version, updated_at"

// sqlStore implements Checkpointer on database/sql. The SQLite, MySQL and
// Postgres stores embed it and differ only in connection setup and schema.
type sqlStore struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

func (s *sqlStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Load returns the checkpoint for jobID.
func (s *sqlStore) Load(ctx context.Context, jobID string) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	query := s.dialect.bind("SELECT " + checkpointColumns + " FROM meetgraph_checkpoints WHERE job_id = ?")
	row := s.db.QueryRowContext(ctx, query, jobID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint %s: %w", jobID, err)
	}
	return cp, nil
}

// Save inserts a new checkpoint (Version 0) or updates the stored one when
// its version still matches.
func (s *sqlStore) Save(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint{}, err
	}

	cols, err := encodeColumns(cp)
	if err != nil {
		return Checkpoint{}, err
	}
	next := cp
	next.Version = cp.Version + 1
	next.UpdatedAt = now()

	var res sql.Result
	if cp.Version == 0 {
		query := s.dialect.bind(s.dialect.insertPrefix + " meetgraph_checkpoints (" + checkpointColumns +
			") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)" + s.dialect.insertSuffix)
		res, err = s.db.ExecContext(ctx, query,
			cp.JobID, cp.Status, cp.Stage, cp.Step,
			string(cols.state), nullableJSON(cols.pending), nullableJSON(cols.decision),
			next.Version, next.UpdatedAt.UnixNano())
	} else {
		query := s.dialect.bind(`UPDATE meetgraph_checkpoints
			SET status = ?, stage = ?, step = ?, state = ?, pending = ?, decision = ?, version = ?, updated_at = ?
			WHERE job_id = ? AND version = ?`)
		res, err = s.db.ExecContext(ctx, query,
			cp.Status, cp.Stage, cp.Step,
			string(cols.state), nullableJSON(cols.pending), nullableJSON(cols.decision),
			next.Version, next.UpdatedAt.UnixNano(),
			cp.JobID, cp.Version)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to save checkpoint %s: %w", cp.JobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return Checkpoint{}, ErrVersionConflict
	}
	return clone(next)
}

// Delete removes the checkpoint for jobID.
func (s *sqlStore) Delete(ctx context.Context, jobID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := s.dialect.bind("DELETE FROM meetgraph_checkpoints WHERE job_id = ?")
	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", jobID, err)
	}
	return nil
}

// List returns checkpoints, most recently updated first.
func (s *sqlStore) List(ctx context.Context, limit int) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := "SELECT " + checkpointColumns + " FROM meetgraph_checkpoints ORDER BY updated_at DESC, job_id ASC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}
	return out, nil
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. Safe to call more than once.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var (
		cp                       Checkpoint
		state, pending, decision []byte
		updatedAt                int64
	)
	if err := row.Scan(&cp.JobID, &cp.Status, &cp.Stage, &cp.Step,
		&state, &pending, &decision, &cp.Version, &updatedAt); err != nil {
		return Checkpoint{}, err
	}
	if err := decodeColumns(&cp, state, pending, decision); err != nil {
		return Checkpoint{}, err
	}
	cp.UpdatedAt = unixNano(updatedAt)
	return cp, nil
}

// execAll runs schema statements in order.
func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
