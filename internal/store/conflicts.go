package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// Conflict resolvers recorded in the audit trail.
const (
	ResolvedByAuto = "auto"
	ResolvedByUser = "user"
)

// ConflictRecord is an immutable audit entry for a detected disagreement
// between a local task and a remote snapshot. Only the resolution fields
// change after creation.
type ConflictRecord struct {
	ID            int64
	TaskID        int64
	LocalVersion  string
	RemoteVersion string
	Resolution    string
	ResolvedAt    *time.Time
	ResolvedBy    string
	CreatedAt     time.Time
}

// RecordConflict logs a disagreement. Local and remote versions are stored
// as serialized JSON snapshots.
func (s *Store) RecordConflict(ctx context.Context, taskID int64, local *task.Task, remote task.RemoteView) (int64, error) {
	localJSON, err := json.Marshal(local)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize local version: %w", err)
	}
	remoteJSON, err := json.Marshal(struct {
		Number    int64     `json:"number"`
		Title     string    `json:"title"`
		Body      string    `json:"body"`
		State     string    `json:"state"`
		UpdatedAt time.Time `json:"updated_at"`
	}{remote.Number, remote.Title, remote.Body, remote.State, remote.UpdatedAt})
	if err != nil {
		return 0, fmt.Errorf("failed to serialize remote version: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO conflicts (task_id, local_version, remote_version, created_at)
	VALUES (?, ?, ?, ?)`,
		taskID, string(localJSON), string(remoteJSON),
		s.now().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to record conflict: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read conflict id: %w", err)
	}
	return id, nil
}

// ResolveConflict stamps the resolution fields of an open conflict record.
func (s *Store) ResolveConflict(ctx context.Context, id int64, resolution, resolvedBy string) error {
	res, err := s.conn.ExecContext(ctx, `
	UPDATE conflicts
	SET resolution = ?, resolved_by = ?, resolved_at = ?
	WHERE id = ?`,
		resolution, resolvedBy, s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConflicts returns conflict records, optionally only unresolved ones,
// newest first.
func (s *Store) ListConflicts(ctx context.Context, unresolvedOnly bool) ([]*ConflictRecord, error) {
	query := `
	SELECT id, task_id, local_version, remote_version,
	       resolution, resolved_at, resolved_by, created_at
	FROM conflicts`
	if unresolvedOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY id DESC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var records []*ConflictRecord
	for rows.Next() {
		var r ConflictRecord
		var resolvedAt sql.NullString
		var createdAt string
		err := rows.Scan(&r.ID, &r.TaskID, &r.LocalVersion, &r.RemoteVersion,
			&r.Resolution, &resolvedAt, &r.ResolvedBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		r.ResolvedAt = nullStringToTime(resolvedAt)
		r.CreatedAt = parseTime(createdAt)
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return records, nil
}
