// Package sqlite is a persistent registry.Store backed by SQLite
// (modernc.org/sqlite driver, CGO-free).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corectl/supervisor/internal/platform"
	"github.com/corectl/supervisor/internal/registry"
)

// DB implements registry.Store. DSN is a filesystem path to the database
// file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path and ensures the schema.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// For in-memory databases, ensure a single underlying connection so the
	// schema and data are visible across all operations. With multiple
	// connections, each would get its own isolated :memory: DB.
	if p == ":memory:" {
		d.SetMaxOpenConns(1)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
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
			last_seen TIMESTAMP NOT NULL,
			data TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS lifecycle_event(
			event_id TEXT PRIMARY KEY,
			registry_id TEXT NOT NULL,
			pid INTEGER NOT NULL,
			event TEXT NOT NULL,
			ts TIMESTAMP NOT NULL,
			prev_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
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
		VALUES(?, ?, ?, ?)
		ON CONFLICT(registry_id) DO UPDATE SET
			pid=excluded.pid,
			last_seen=excluded.last_seen,
			data=excluded.data;`,
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
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap registry.ProcessSnapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
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
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
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
	if q.RegistryID != "" {
		where = append(where, "registry_id=?")
		args = append(args, q.RegistryID)
	}
	if !q.Since.IsZero() {
		where = append(where, "ts>=?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		where = append(where, "ts<=?")
		args = append(args, q.Until.UTC())
	}

	stmt := `SELECT event_id, registry_id, pid, event, ts, prev_status, new_status, metadata FROM lifecycle_event`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY ts DESC"
	if q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			stmt += " OFFSET ?"
			args = append(args, q.Offset)
		}
	} else if q.Offset > 0 {
		stmt += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
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
			meta       string
		)
		if err := rows.Scan(&e.EventID, &e.RegistryID, &e.PID, &event, &e.Timestamp, &prev, &next, &meta); err != nil {
			return nil, err
		}
		e.Event = registry.EventType(event)
		e.PreviousStatus = platform.ProcessStatus(prev)
		e.NewStatus = platform.ProcessStatus(next)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Cleanup removes snapshots last seen before processRetention and events
// before eventRetention, reporting removed row counts.
func (s *DB) Cleanup(ctx context.Context, processRetention, eventRetention time.Time) (registry.CleanupResult, error) {
	var res registry.CleanupResult

	r1, err := s.db.ExecContext(ctx, `DELETE FROM registry_snapshot WHERE last_seen < ?;`, processRetention.UTC())
	if err != nil {
		return res, err
	}
	if n, err := r1.RowsAffected(); err == nil {
		res.RemovedProcesses = int(n)
	}

	r2, err := s.db.ExecContext(ctx, `DELETE FROM lifecycle_event WHERE ts < ?;`, eventRetention.UTC())
	if err != nil {
		return res, err
	}
	if n, err := r2.RowsAffected(); err == nil {
		res.RemovedEvents = int(n)
	}
	return res, nil
}
