// Package postgres implements a trace archive over PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection;
// the caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	caravan "github.com/nevindra/caravan"
)

// Store archives sealed request traces in PostgreSQL. It implements
// caravan.TraceSink.
type Store struct {
	pool *pgxpool.Pool
}

var _ caravan.TraceSink = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the traces table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS traces (
		request_id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		session_id TEXT,
		path TEXT NOT NULL,
		selection_strategy TEXT,
		synthesis_used BOOLEAN NOT NULL,
		preserved_block_count INTEGER NOT NULL,
		total_latency_ms BIGINT NOT NULL,
		error TEXT,
		detail JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init traces: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_traces_created_at ON traces(created_at)`)
	if err != nil {
		return fmt.Errorf("postgres: init index: %w", err)
	}
	return nil
}

// Record archives one sealed trace.
func (s *Store) Record(ctx context.Context, t caravan.Trace) error {
	detail, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("postgres: marshal trace: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO traces
		(request_id, query, session_id, path, selection_strategy, synthesis_used,
		 preserved_block_count, total_latency_ms, error, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id) DO NOTHING`,
		t.RequestID, t.Query, t.SessionID, string(t.Path), t.SelectionStrategy,
		t.SynthesisUsed, t.PreservedBlockCount, t.TotalLatencyMS,
		string(t.Error), detail, t.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert trace: %w", err)
	}
	return nil
}

// Recent returns the most recent traces, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]caravan.Trace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT detail FROM traces ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query traces: %w", err)
	}
	defer rows.Close()

	var out []caravan.Trace
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("postgres: scan trace: %w", err)
		}
		var t caravan.Trace
		if err := json.Unmarshal(detail, &t); err != nil {
			return nil, fmt.Errorf("postgres: decode trace: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
