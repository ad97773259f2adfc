// Package runhistory persists run summaries to Postgres for fleet-level
// reporting. The sink is optional: without DATABASE_URL every call is a
// no-op, and the on-disk ledgers remain the source of truth.
package runhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// Entry is one pipeline run.
type Entry struct {
	RunID      string
	Pipeline   string
	StartedAt  string
	FinishedAt string
	Counts     map[string]int
	BytesTotal int64
	Strict     bool
	ExitCode   int
}

// Sink writes run history rows. A nil Sink is valid and records nothing.
type Sink struct {
	db *sql.DB
}

// FromEnv opens the sink when DATABASE_URL is set, else returns (nil, nil).
func FromEnv() (*Sink, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil
	}
	return Open(dsn)
}

// Open connects to Postgres and ensures the run_history table exists.
func Open(dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run history db: %w", err)
	}
	s := &Sink{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB) *Sink { return &Sink{db: db} }

func (s *Sink) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_history (
			run_id      TEXT NOT NULL,
			pipeline    TEXT NOT NULL,
			started_at  TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			counts      JSONB,
			bytes_total BIGINT NOT NULL DEFAULT 0,
			strict      BOOLEAN NOT NULL DEFAULT FALSE,
			exit_code   INT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, pipeline)
		)`)
	if err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}
	return nil
}

// Record upserts one run entry. Safe to call on a nil sink.
func (s *Sink) Record(ctx context.Context, e Entry) error {
	if s == nil {
		return nil
	}
	counts, err := json.Marshal(e.Counts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_history
			(run_id, pipeline, started_at, finished_at, counts, bytes_total, strict, exit_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, pipeline) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			counts      = EXCLUDED.counts,
			bytes_total = EXCLUDED.bytes_total,
			exit_code   = EXCLUDED.exit_code`,
		e.RunID, e.Pipeline, nullable(e.StartedAt), nullable(e.FinishedAt),
		counts, e.BytesTotal, e.Strict, e.ExitCode)
	if err != nil {
		return fmt.Errorf("record run history: %w", err)
	}
	return nil
}

// Close releases the connection. Safe on a nil sink.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func nullable(ts string) any {
	if ts == "" {
		return nil
	}
	return ts
}
