// Package postgres is a persistent registry.Store backed by PostgreSQL
// via the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

// DB implements registry.Store.
type DB struct {
	db *sql.DB
}

// New opens a connection pool for dsn and ensures the schema.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registry_snapshot(
			registry_id TEXT PRIMARY KEY,
			pid INTEGER NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_event(
			event_id TEXT PRIMARY KEY,
			registry_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			event TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			prev_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_event_registry_ts
			ON lifecycle_event(registry_id, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

// SaveSnapshot upserts the full snapshot for one registryId.
func (s *DB) SaveSnapshot(ctx context.Context, snap registry.ProcessSnapshot) error {
	if strings.TrimSpace(snap.RegistryID) == "" {
		return errors.New("empty registryId")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registry_snapshot(registry_id, pid, last_seen, data)
		VALUES($1,$2,$3,$4)
		ON CONFLICT(registry_id) DO UPDATE SET
			pid=EXCLUDED.pid,
			last_seen=EXCLUDED.last_seen,
			data=EXCLUDED.data;`,
		snap.RegistryID, snap.Process.PID, snap.Process.LastSeen.UTC(), string(data))
	return err
}

// LoadSnapshots returns every stored snapshot.
func (s *DB) LoadSnapshots(ctx context.Context) ([]registry.ProcessSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM registry_snapshot;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []registry.ProcessSnapshot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap registry.ProcessSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveEvent appends one lifecycle event.
func (s *DB) SaveEvent(ctx context.Context, e registry.LifecycleEvent) error {
	meta := "{}"
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_event(event_id, registry_id, pid, event, ts, prev_status, new_status, metadata)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8);`,
		e.EventID, e.RegistryID, e.PID, string(e.Event), e.Timestamp.UTC(),
		string(e.PreviousStatus), string(e.NewStatus), meta)
	return err
}

// LoadEvents returns matching events, newest first, with paging.
func (s *DB) LoadEvents(ctx context.Context, q registry.EventQuery) ([]registry.LifecycleEvent, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.RegistryID != "" {
		where = append(where, "registry_id="+arg(q.RegistryID))
	}
	if !q.Since.IsZero() {
		where = append(where, "ts>="+arg(q.Since.UTC()))
	}
	if !q.Until.IsZero() {
		where = append(where, "ts<="+arg(q.Until.UTC()))
	}

	stmt := `SELECT event_id, registry_id, pid, event, ts, prev_status, new_status, metadata FROM lifecycle_event`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY ts DESC"
	if q.Limit > 0 {
		stmt += " LIMIT " + arg(q.Limit)
	}
	if q.Offset > 0 {
		stmt += " OFFSET " + arg(q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []registry.LifecycleEvent
	for rows.Next() {
		var (
			e          registry.LifecycleEvent
			event      string
			prev, next string
			meta       []byte
		)
		if err := rows.Scan(&e.EventID, &e.RegistryID, &e.PID, &event, &e.Timestamp, &prev, &next, &meta); err != nil {
			return nil, err
		}
		e.Event = registry.EventType(event)
		e.PreviousStatus = platform.ProcessStatus(prev)
		e.NewStatus = platform.ProcessStatus(next)
		if len(meta) > 0 && string(meta) != "{}" {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup removes snapshots last seen before processRetention and events
// before eventRetention, reporting removed row counts.
func (s *DB) Cleanup(ctx context.Context, processRetention, eventRetention time.Time) (registry.CleanupResult, error) {
	var res registry.CleanupResult

	r1, err := s.db.ExecContext(ctx, `DELETE FROM registry_snapshot WHERE last_seen < $1;`, processRetention.UTC())
	if err != nil {
		return res, err
	}
	if n, err := r1.RowsAffected(); err == nil {
		res.RemovedProcesses = int(n)
	}

	r2, err := s.db.ExecContext(ctx, `DELETE FROM lifecycle_event WHERE ts < $1;`, eventRetention.UTC())
	if err != nil {
		return res, err
	}
	if n, err := r2.RowsAffected(); err == nil {
		res.RemovedEvents = int(n)
	}
	return res, nil
}
