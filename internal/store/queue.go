package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Queue operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Queue targets.
const (
	TargetRemote = "remote"
	TargetLocal  = "local"
)

// Backoff bounds for failed queue entries.
const (
	backoffBase = time.Second
	backoffCap  = 5 * time.Minute
)

// QueueEntry is a deferred unit of sync work, created when a direct attempt
// fails or the rate-limit budget is exhausted.
type QueueEntry struct {
	ID           int64
	TaskID       int64
	Operation    string
	Target       string
	Payload      string
	Priority     int
	RetryCount   int
	MaxRetries   int
	ScheduledAt  time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	CreatedAt    time.Time
}

// Enqueue adds a deferred operation. A zero ScheduledAt means "eligible
// now"; a zero MaxRetries defaults to 3.
func (s *Store) Enqueue(ctx context.Context, e *QueueEntry) (int64, error) {
	if e.Operation == "" || e.Target == "" {
		return 0, fmt.Errorf("queue entry requires operation and target")
	}
	now := s.now()
	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = now
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (
		task_id, operation, target, payload, priority,
		retry_count, max_retries, scheduled_at, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Operation, e.Target, e.Payload, e.Priority,
		e.RetryCount, e.MaxRetries,
		e.ScheduledAt.UTC().Format(time.RFC3339Nano), e.ErrorMessage,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	return id, nil
}

// NextBatch returns up to limit eligible entries for the given target,
// ordered by priority descending then schedule time ascending. Entries that
// exhausted their retry budget are dead-lettered and never selected.
func (s *Store) NextBatch(ctx context.Context, target string, limit int) ([]*QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, task_id, operation, target, payload, priority,
	       retry_count, max_retries, scheduled_at, completed_at, error_message, created_at
	FROM sync_queue
	WHERE completed_at IS NULL
	  AND retry_count < max_retries
	  AND target = ?
	  AND scheduled_at <= ?
	ORDER BY priority DESC, scheduled_at ASC
	LIMIT ?`,
		target, s.now().Format(time.RFC3339Nano), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue batch: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// MarkComplete soft-deletes a queue entry by stamping completed_at.
func (s *Store) MarkComplete(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET completed_at = ? WHERE id = ?`,
		s.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to complete queue entry %d: %w", id, err)
	}
	return nil
}

// CompleteForTask stamps every live entry for a task and target complete.
// Used after a direct sync of the task succeeds, making queued replays of
// older state redundant.
func (s *Store) CompleteForTask(ctx context.Context, taskID int64, target string) error {
	_, err := s.conn.ExecContext(ctx, `
	UPDATE sync_queue SET completed_at = ?
	WHERE task_id = ? AND target = ? AND completed_at IS NULL AND retry_count < max_retries`,
		s.now().Format(time.RFC3339Nano), taskID, target)
	if err != nil {
		return fmt.Errorf("failed to supersede queue entries for task %d: %w", taskID, err)
	}
	return nil
}

// MarkFailed records a failed attempt: the retry counter advances and the
// entry is rescheduled with exponential backoff (1s base, doubling, capped
// at 5 minutes). Once retry_count reaches max_retries the entry becomes a
// dead letter.
func (s *Store) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	var retryCount int
	err := s.conn.QueryRowContext(ctx,
		`SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&retryCount)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read queue entry %d: %w", id, err)
	}

	next := s.now().Add(Backoff(retryCount + 1))
	_, err = s.conn.ExecContext(ctx, `
	UPDATE sync_queue
	SET retry_count = retry_count + 1,
	    scheduled_at = ?,
	    error_message = ?
	WHERE id = ?`,
		next.Format(time.RFC3339Nano), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry %d failed: %w", id, err)
	}
	return nil
}

// DeadLetters returns entries permanently excluded from selection so
// operators can intervene.
func (s *Store) DeadLetters(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, task_id, operation, target, payload, priority,
	       retry_count, max_retries, scheduled_at, completed_at, error_message, created_at
	FROM sync_queue
	WHERE completed_at IS NULL AND retry_count >= max_retries
	ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dead letters: %w", err)
	}
	defer rows.Close()

	return scanQueueEntries(rows)
}

// PendingCount returns the number of live (selectable) queue entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM sync_queue
	WHERE completed_at IS NULL AND retry_count < max_retries`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// Backoff returns the delay before the attempt-th retry (1-based):
// 1s, 2s, 4s, ... capped at 5 minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func scanQueueEntries(rows *sql.Rows) ([]*QueueEntry, error) {
	var entries []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		var scheduledAt, createdAt string
		var completedAt sql.NullString

		err := rows.Scan(&e.ID, &e.TaskID, &e.Operation, &e.Target, &e.Payload,
			&e.Priority, &e.RetryCount, &e.MaxRetries,
			&scheduledAt, &completedAt, &e.ErrorMessage, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}

		e.ScheduledAt = parseTime(scheduledAt)
		e.CompletedAt = nullStringToTime(completedAt)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}
