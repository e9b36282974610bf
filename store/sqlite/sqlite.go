// Package sqlite implements a trace archive over pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	caravan "github.com/nevindra/caravan"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store archives sealed request traces in a local SQLite file so the
// execution-visualization surface can replay past requests. It implements
// caravan.TraceSink.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ caravan.TraceSink = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// A single shared connection serializes all writers, eliminating
// SQLITE_BUSY errors from concurrent requests.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the traces table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS traces (
		request_id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		session_id TEXT,
		path TEXT NOT NULL,
		selection_strategy TEXT,
		synthesis_used INTEGER NOT NULL,
		preserved_block_count INTEGER NOT NULL,
		total_latency_ms INTEGER NOT NULL,
		error TEXT,
		detail TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init traces: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_traces_created_at ON traces(created_at)`)
	if err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}
	return nil
}

// Record archives one sealed trace. The full record is stored as JSON in
// detail; the hot columns are extracted for querying.
func (s *Store) Record(ctx context.Context, t caravan.Trace) error {
	detail, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("sqlite: marshal trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO traces
		(request_id, query, session_id, path, selection_strategy, synthesis_used,
		 preserved_block_count, total_latency_ms, error, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RequestID, t.Query, t.SessionID, string(t.Path), t.SelectionStrategy,
		boolToInt(t.SynthesisUsed), t.PreservedBlockCount, t.TotalLatencyMS,
		string(t.Error), string(detail), t.StartedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: insert trace: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("sqlite: trace archived", "request_id", t.RequestID, "path", t.Path)
	}
	return nil
}

// Recent returns the most recent traces, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]caravan.Trace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT detail FROM traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query traces: %w", err)
	}
	defer rows.Close()

	var out []caravan.Trace
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("sqlite: scan trace: %w", err)
		}
		var t caravan.Trace
		if err := json.Unmarshal([]byte(detail), &t); err != nil {
			return nil, fmt.Errorf("sqlite: decode trace: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
