// Package joblog journals completed pool calls in SQLite for post-hoc
// inspection: which slot ran what, how long it took, and how it ended.
package joblog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Record is one completed call.
type Record struct {
	ID         string
	Slot       int // -1 for the fallback path
	Kind       string
	Status     string // ok | error
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// Store wraps the journal database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("joblog path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create joblog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open joblog: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS call_log (
  id          TEXT PRIMARY KEY,
  slot        INTEGER NOT NULL,
  kind        TEXT NOT NULL,
  status      TEXT NOT NULL,
  error       TEXT,
  duration_ms INTEGER NOT NULL,
  finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS call_log_finished_at_idx ON call_log(finished_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap joblog: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one completed call.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_log (id, slot, kind, status, error, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Slot, rec.Kind, rec.Status, rec.Error,
		rec.Duration.Milliseconds(), rec.FinishedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Recent returns the most recently finished calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, slot, kind, status, error, duration_ms, finished_at
		 FROM call_log ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var durationMS, finishedNS int64
		if err := rows.Scan(&rec.ID, &rec.Slot, &rec.Kind, &rec.Status, &rec.Error, &durationMS, &finishedNS); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.FinishedAt = time.Unix(0, finishedNS).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records finished before the retention horizon.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	horizon := time.Now().UTC().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_log WHERE finished_at < ?`, horizon)
	if err != nil {
		return 0, fmt.Errorf("prune call log: %w", err)
	}
	return res.RowsAffected()
}
