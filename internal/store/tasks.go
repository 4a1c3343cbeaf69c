package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrRemoteIDImmutable is returned when an update tries to re-point a task
// at a different remote issue. An issue is never re-parented.
var ErrRemoteIDImmutable = errors.New("store: remote_id is immutable once set")

const taskColumns = `id, content, status, active_form, session_id, project_path,
	created_at, updated_at,
	remote_id, remote_internal_id, remote_state, remote_title, remote_body,
	remote_synced_at, remote_last_modified,
	sync_version, last_sync_hash, conflict_detected, needs_remote_sync, needs_local_sync`

// CreateTask inserts a new task and returns it with its assigned id.
// SyncVersion starts at 1; timestamps default to the store clock when unset.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) (*task.Task, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	if t.SyncVersion == 0 {
		t.SyncVersion = 1
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO tasks (
		content, status, active_form, session_id, project_path,
		created_at, updated_at,
		remote_id, remote_internal_id, remote_state, remote_title, remote_body,
		remote_synced_at, remote_last_modified,
		sync_version, last_sync_hash, conflict_detected, needs_remote_sync, needs_local_sync
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Content, string(t.Status), t.ActiveForm, t.SessionID, t.ProjectPath,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullInt64(t.RemoteID), nullInt64(t.RemoteInternalID),
		t.RemoteState, t.RemoteTitle, t.RemoteBody,
		timeToNullString(t.RemoteSyncedAt), timeToNullString(t.RemoteLastModified),
		t.SyncVersion, t.LastSyncHash,
		boolToInt(t.ConflictDetected), boolToInt(t.NeedsRemoteSync), boolToInt(t.NeedsLocalSync),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask retrieves a task by id. Returns ErrNotFound if absent.
func (s *Store) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// GetTaskByRemoteID retrieves the task linked to the given issue number.
func (s *Store) GetTaskByRemoteID(ctx context.Context, remoteID int64) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE remote_id = ?`, remoteID)
	return scanTask(row)
}

// FindTaskBySource locates a task by its de-duplication key
// (content, sessionId, projectPath).
func (s *Store) FindTaskBySource(ctx context.Context, content, sessionID, projectPath string) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE content = ? AND session_id = ? AND project_path = ?`,
		content, sessionID, projectPath)
	return scanTask(row)
}

// TaskFilter narrows ListTasks. Zero values mean "no constraint".
type TaskFilter struct {
	Status           task.Status
	ProjectPath      string
	NeedsRemoteSync  *bool
	NeedsLocalSync   *bool
	ConflictDetected *bool
	Limit            int
}

// ListTasks retrieves tasks matching the filter, ordered by id.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*task.Task, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.ProjectPath != "" {
		conditions = append(conditions, "project_path = ?")
		args = append(args, filter.ProjectPath)
	}
	if filter.NeedsRemoteSync != nil {
		conditions = append(conditions, "needs_remote_sync = ?")
		args = append(args, boolToInt(*filter.NeedsRemoteSync))
	}
	if filter.NeedsLocalSync != nil {
		conditions = append(conditions, "needs_local_sync = ?")
		args = append(args, boolToInt(*filter.NeedsLocalSync))
	}
	if filter.ConflictDetected != nil {
		conditions = append(conditions, "conflict_detected = ?")
		args = append(args, boolToInt(*filter.ConflictDetected))
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListDirtyTasks returns tasks flagged for sync on either side, excluding
// tasks held back by an unresolved conflict.
func (s *Store) ListDirtyTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT `+taskColumns+` FROM tasks
	WHERE (needs_remote_sync = 1 OR needs_local_sync = 1)
	  AND conflict_detected = 0
	ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// TaskUpdate is an explicit, fixed set of mutable task fields. Nil means
// "leave unchanged". Every applied update bumps sync_version by exactly one
// in the same statement; provenance and created_at are not mutable.
type TaskUpdate struct {
	Content    *string
	Status     *task.Status
	ActiveForm *string

	RemoteID           *int64
	RemoteInternalID   *int64
	RemoteState        *string
	RemoteTitle        *string
	RemoteBody         *string
	RemoteSyncedAt     *time.Time
	RemoteLastModified *time.Time

	LastSyncHash     *string
	ConflictDetected *bool
	NeedsRemoteSync  *bool
	NeedsLocalSync   *bool
}

// UpdateTask applies upd to the task atomically and returns the new row.
// sync_version increases by one on every call; updated_at is set to the
// store clock. Setting RemoteID on a task that already carries a different
// remote id fails with ErrRemoteIDImmutable.
func (s *Store) UpdateTask(ctx context.Context, id int64, upd TaskUpdate) (*task.Task, error) {
	sets := []string{
		"sync_version = sync_version + 1",
		"updated_at = ?",
	}
	args := []interface{}{s.now().Format(time.RFC3339Nano)}

	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Content != nil {
		add("content", *upd.Content)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.ActiveForm != nil {
		add("active_form", *upd.ActiveForm)
	}
	if upd.RemoteID != nil {
		add("remote_id", *upd.RemoteID)
	}
	if upd.RemoteInternalID != nil {
		add("remote_internal_id", *upd.RemoteInternalID)
	}
	if upd.RemoteState != nil {
		add("remote_state", *upd.RemoteState)
	}
	if upd.RemoteTitle != nil {
		add("remote_title", *upd.RemoteTitle)
	}
	if upd.RemoteBody != nil {
		add("remote_body", *upd.RemoteBody)
	}
	if upd.RemoteSyncedAt != nil {
		add("remote_synced_at", upd.RemoteSyncedAt.UTC().Format(time.RFC3339Nano))
	}
	if upd.RemoteLastModified != nil {
		add("remote_last_modified", upd.RemoteLastModified.UTC().Format(time.RFC3339Nano))
	}
	if upd.LastSyncHash != nil {
		add("last_sync_hash", *upd.LastSyncHash)
	}
	if upd.ConflictDetected != nil {
		add("conflict_detected", boolToInt(*upd.ConflictDetected))
	}
	if upd.NeedsRemoteSync != nil {
		add("needs_remote_sync", boolToInt(*upd.NeedsRemoteSync))
	}
	if upd.NeedsLocalSync != nil {
		add("needs_local_sync", boolToInt(*upd.NeedsLocalSync))
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if upd.RemoteID != nil {
		// Allow first assignment and idempotent re-assignment only.
		query += " AND (remote_id IS NULL OR remote_id = ?)"
		args = append(args, *upd.RemoteID)
	}

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if upd.RemoteID != nil {
			if _, gerr := s.GetTask(ctx, id); gerr == nil {
				return nil, ErrRemoteIDImmutable
			}
		}
		return nil, ErrNotFound
	}

	return s.GetTask(ctx, id)
}

// DeleteTask removes a task and, via cascade, its queue and conflict rows.
// Task deletion is an explicit user action only; closing a task is a status
// transition, never a delete.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// CountTasks returns the total number of task rows.
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var status string
	var createdAt, updatedAt string
	var remoteID, remoteInternalID sql.NullInt64
	var remoteSyncedAt, remoteLastModified sql.NullString
	var conflictDetected, needsRemoteSync, needsLocalSync int

	err := row.Scan(
		&t.ID, &t.Content, &status, &t.ActiveForm, &t.SessionID, &t.ProjectPath,
		&createdAt, &updatedAt,
		&remoteID, &remoteInternalID, &t.RemoteState, &t.RemoteTitle, &t.RemoteBody,
		&remoteSyncedAt, &remoteLastModified,
		&t.SyncVersion, &t.LastSyncHash, &conflictDetected, &needsRemoteSync, &needsLocalSync,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Status = task.Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if remoteID.Valid {
		t.RemoteID = &remoteID.Int64
	}
	if remoteInternalID.Valid {
		t.RemoteInternalID = &remoteInternalID.Int64
	}
	t.RemoteSyncedAt = nullStringToTime(remoteSyncedAt)
	t.RemoteLastModified = nullStringToTime(remoteLastModified)
	t.ConflictDetected = conflictDetected != 0
	t.NeedsRemoteSync = needsRemoteSync != 0
	t.NeedsLocalSync = needsLocalSync != 0
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
