// Package audit records a durable history of completed runs, grounded in
// the teacher's pgx-based store: a connection pool, $N placeholders,
// uuid-generated row ids, and fmt.Errorf wrapping. Optional — the server
// daemon only constructs a Log when Config.Audit.DSN is set.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/cmdproxy/internal/protocol"
)

// Log is the durable run-history sink.
type Log struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the run_history table exists.
func Open(ctx context.Context, dsn string) (*Log, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS run_history (
	id          UUID PRIMARY KEY,
	result_id   TEXT NOT NULL,
	queue       TEXT NOT NULL,
	command     TEXT NOT NULL,
	return_code INT NOT NULL,
	exc         TEXT,
	staged_in   INT NOT NULL DEFAULT 0,
	staged_out  INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: create run_history table: %w", err)
	}

	return &Log{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (l *Log) Close() {
	l.pool.Close()
}

// Record inserts one row for a completed run.
func (l *Log) Record(ctx context.Context, resultID, queue, command string, resp *protocol.RunResponse, stagedIn, stagedOut int) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO run_history (id, result_id, queue, command, return_code, exc, staged_in, staged_out)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), resultID, queue, command, resp.ReturnCode, nullIfEmpty(resp.Exc), stagedIn, stagedOut,
	)
	if err != nil {
		return fmt.Errorf("audit: insert run_history: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
