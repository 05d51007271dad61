// File: internal/store/audit.go
// Package store persists the audit trail of run events. Safety decisions and
// action attempts must survive the process so an operator can reconstruct
// what an autonomous run actually did.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/voidgazer8/deskpilot-cli/pkg/agent"
)

// AuditStore is a SQLite-backed agent.Sink. Record is synchronous; callers
// that cannot tolerate write latency should wrap it in a buffering sink.
type AuditStore struct {
	logger *zap.Logger
	db     *sql.DB
	mu     sync.Mutex
}

// NewAuditStore opens (creating if needed) the audit database at dbPath.
func NewAuditStore(logger *zap.Logger, dbPath string) (*AuditStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	store := &AuditStore{
		logger: logger.Named("audit_store"),
		db:     db,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return store, nil
}

// migrate creates the schema if it does not exist.
func (s *AuditStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		kind TEXT NOT NULL,
		at TIMESTAMP NOT NULL,
		endpoint TEXT,
		outcome TEXT,
		reason TEXT,
		latency_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_events_kind ON run_events(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists one event. Failures are logged and swallowed; the audit
// trail must never take the cycle loop down with it.
func (s *AuditStore) Record(ev agent.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO run_events
		 (id, run_id, cycle, kind, at, endpoint, outcome, reason, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Cycle, string(ev.Kind), ev.At.UTC(),
		ev.Endpoint, ev.Outcome, ev.Reason, ev.Latency.Milliseconds(),
	)
	if err != nil {
		s.logger.Error("Failed to persist audit event",
			zap.String("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err),
		)
	}
}

// EventsForRun returns every stored event of one run ordered by cycle, then
// insertion time.
func (s *AuditStore) EventsForRun(ctx context.Context, runID string) ([]agent.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, cycle, kind, at, endpoint, outcome, reason, latency_ms
		 FROM run_events WHERE run_id = ? ORDER BY cycle, at`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying run events: %w", err)
	}
	defer rows.Close()

	var events []agent.Event
	for rows.Next() {
		var ev agent.Event
		var kind string
		var latencyMs int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Cycle, &kind, &ev.At,
			&ev.Endpoint, &ev.Outcome, &ev.Reason, &latencyMs); err != nil {
			return nil, fmt.Errorf("scanning run event: %w", err)
		}
		ev.Kind = agent.EventKind(kind)
		ev.Latency = time.Duration(latencyMs) * time.Millisecond
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByKind returns per-kind event counts for one run.
func (s *AuditStore) CountByKind(ctx context.Context, runID string) (map[agent.EventKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM run_events WHERE run_id = ? GROUP BY kind`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("counting run events: %w", err)
	}
	defer rows.Close()

	counts := map[agent.EventKind]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning event count: %w", err)
		}
		counts[agent.EventKind(kind)] = n
	}
	return counts, rows.Err()
}

// Close releases the underlying database handle.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
