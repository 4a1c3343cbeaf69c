// Package store provides the SQLite persistence layer for the sync engine.
//
// The store owns four record families: tasks, sync queue entries, conflict
// log entries, and sync statistics. The database runs embedded with WAL so
// concurrent batch workers can read while a sync pass writes. Every
// multi-field task update executes as a single statement, so a partial
// write is never observable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the embedded SQLite database holding all sync state.
type Store struct {
	conn *sql.DB
	path string

	// now is injectable for deterministic timestamps in tests.
	now func() time.Time
}

// Open creates or opens the sync database at path. The parent directory is
// created if needed. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, now: func() time.Time { return time.Now().UTC() }}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// SetClock overrides the store's time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the four record families if they do not exist.
// Idempotent; safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		active_form TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		project_path TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		remote_id INTEGER,
		remote_internal_id INTEGER,
		remote_state TEXT NOT NULL DEFAULT '',
		remote_title TEXT NOT NULL DEFAULT '',
		remote_body TEXT NOT NULL DEFAULT '',
		remote_synced_at TEXT,
		remote_last_modified TEXT,

		sync_version INTEGER NOT NULL DEFAULT 1,
		last_sync_hash TEXT NOT NULL DEFAULT '',
		conflict_detected INTEGER NOT NULL DEFAULT 0,
		needs_remote_sync INTEGER NOT NULL DEFAULT 0,
		needs_local_sync INTEGER NOT NULL DEFAULT 0,

		UNIQUE(content, session_id, project_path)
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		operation TEXT NOT NULL,  -- create, update, delete
		target TEXT NOT NULL,     -- remote, local
		payload TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		scheduled_at TEXT NOT NULL,
		completed_at TEXT,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		local_version TEXT NOT NULL,
		remote_version TEXT NOT NULL,
		resolution TEXT NOT NULL DEFAULT '',
		resolved_at TEXT,
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		items_processed INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_path);
	CREATE INDEX IF NOT EXISTS idx_tasks_remote_id ON tasks(remote_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_dirty
	    ON tasks(needs_remote_sync, needs_local_sync, conflict_detected);

	CREATE INDEX IF NOT EXISTS idx_queue_selection
	    ON sync_queue(completed_at, target, priority, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_conflicts_task ON conflicts(task_id);
	CREATE INDEX IF NOT EXISTS idx_stats_recorded ON sync_stats(recorded_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
