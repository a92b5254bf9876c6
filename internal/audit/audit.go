// Package audit writes an append-only log of VM lifecycle events
// (start dispatched, start failed, start timeout, ready, stop dispatched,
// stopped) to
// Postgres for later cost/behavior analysis. It is deliberately best-effort:
// a write failure is logged and swallowed rather than allowed to back-pressure
// the reconciliation loop, matching the orchestrator's own best-effort stance
// on anything outside its core state machines.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudburst/vmmad/internal/logging"
)

// Event is one VM lifecycle occurrence.
type Event struct {
	VmID      string
	Kind      string // "start_dispatched", "start_failed", "start_timeout", "ready", "stop_dispatched", "stopped"
	Nodename  string
	Detail    string
	Timestamp time.Time
}

// Log appends VM lifecycle events to a Postgres table. A nil *Log is valid
// and silently drops every event, so callers can wire audit logging as an
// optional component without a separate enabled/disabled branch at every
// call site.
type Log struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and ensures the events table exists.
func Open(ctx context.Context, dsn string) (*Log, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: pinging postgres: %w", err)
	}
	l := &Log{pool: pool}
	if err := l.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vm_lifecycle_events (
			id         BIGSERIAL PRIMARY KEY,
			vm_id      TEXT NOT NULL,
			kind       TEXT NOT NULL,
			nodename   TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("audit: ensuring schema: %w", err)
	}
	return nil
}

// Record appends ev. Failures are logged, not returned, so callers on the
// reconciliation path never need error-handling branches for an optional
// sink.
func (l *Log) Record(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO vm_lifecycle_events (vm_id, kind, nodename, detail, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.VmID, ev.Kind, ev.Nodename, ev.Detail, ev.Timestamp,
	)
	if err != nil {
		logging.Op().Error("audit: failed to record lifecycle event", "vm_id", ev.VmID, "kind", ev.Kind, "err", err)
	}
}

// Close releases the underlying connection pool. Safe to call on a nil
// *Log.
func (l *Log) Close() {
	if l == nil {
		return
	}
	l.pool.Close()
}
