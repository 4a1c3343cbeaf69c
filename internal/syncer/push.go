package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/optimizer"
	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/source"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/task"
)

// pushPayload records the state whose write was deferred, for dead-letter
// inspection. Replay pushes the row's current state, which may be newer
// than this snapshot.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	State string `json:"state"`
}

// pushPhase ingests the local task source, then pushes every task flagged
// for remote sync. Large dirty sets are handed to the optimizer for
// prioritized concurrent processing.
func (s *Syncer) pushPhase(ctx context.Context) (processed, errs int) {
	if n, err := s.ingestSource(ctx); err != nil {
		errs++
		s.logger.Printf("Warning: source ingest failed: %v", err)
	} else if n > 0 {
		s.logger.Printf("Ingested %d changed records from local source", n)
	}

	dirty, err := s.dirtyForPush(ctx)
	if err != nil {
		errs++
		s.logger.Printf("Warning: failed to list dirty tasks: %v", err)
		return processed, errs
	}
	if len(dirty) == 0 {
		return processed, errs
	}

	if len(dirty) > s.cfg.Optimizer.BatchSize {
		res := s.opt.PerformOptimizedSync(ctx, dirty, optimizer.ToRemote)
		return processed + res.Processed, errs + res.Errors
	}

	for _, t := range dirty {
		if ctx.Err() != nil {
			return processed, errs
		}
		if err := s.pushTask(ctx, t); err != nil {
			errs++
			s.logger.Printf("Warning: failed to push task %d: %v", t.ID, err)
			continue
		}
		processed++
	}
	return processed, errs
}

// syncItem adapts a single-task push or pull for the optimizer.
func (s *Syncer) syncItem(ctx context.Context, t *task.Task, dir optimizer.Direction) error {
	switch dir {
	case optimizer.FromRemote:
		return s.pullTask(ctx, t)
	default:
		return s.pushTask(ctx, t)
	}
}

// pushTask converges the remote side of one task. When the hourly budget is
// exhausted, the write is deferred onto the queue and the push reports
// success; deferral is the expected path, not a failure. Transient remote
// errors are also deferred; terminal errors surface to the caller.
func (s *Syncer) pushTask(ctx context.Context, t *task.Task) error {
	if !s.budget.TryAcquire() {
		return s.enqueuePush(ctx, t, "rate budget exhausted")
	}

	title := t.Content
	body := issueBody(t)
	state := task.StateForStatus(t.Status)

	var issue *remote.Issue
	var err error
	if t.RemoteID == nil {
		issue, err = s.client.CreateIssue(ctx, remote.IssueRequest{
			Title:  &title,
			Body:   &body,
			State:  &state,
			Labels: []string{s.cfg.Label},
		})
	} else {
		issue, err = s.client.UpdateIssue(ctx, *t.RemoteID, remote.IssueRequest{
			Title: &title,
			Body:  &body,
			State: &state,
		})
	}
	if err != nil {
		if remote.IsTemporary(err) {
			return s.enqueuePush(ctx, t, err.Error())
		}
		return fmt.Errorf("remote write for task %d failed: %w", t.ID, err)
	}

	return s.confirmPush(ctx, t, issue)
}

// confirmPush records the tracker's echo of a successful write as the new
// sync point.
func (s *Syncer) confirmPush(ctx context.Context, t *task.Task, issue *remote.Issue) error {
	view := issue.View()
	fp := view.Fingerprint()
	syncedAt := s.now().UTC()
	off := false

	upd := store.TaskUpdate{
		RemoteID:           &issue.Number,
		RemoteInternalID:   &issue.ID,
		RemoteState:        &issue.State,
		RemoteTitle:        &issue.Title,
		RemoteBody:         &issue.Body,
		RemoteSyncedAt:     &syncedAt,
		RemoteLastModified: &issue.UpdatedAt,
		LastSyncHash:       &fp,
		NeedsRemoteSync:    &off,
	}
	if _, err := s.store.UpdateTask(ctx, t.ID, upd); err != nil {
		return fmt.Errorf("failed to record push of task %d: %w", t.ID, err)
	}
	// Any queued replay of older state is now redundant.
	if err := s.store.CompleteForTask(ctx, t.ID, store.TargetRemote); err != nil {
		s.logger.Printf("Warning: failed to supersede queue entries for task %d: %v", t.ID, err)
	}
	s.publish(event.TypeTaskSynced, event.TaskSynced{
		TaskID: t.ID, RemoteID: issue.Number, Direction: "to_remote",
	})
	return nil
}

// pullTask refreshes one task from its remote issue. Tasks without a remote
// binding have nothing to pull from.
func (s *Syncer) pullTask(ctx context.Context, t *task.Task) error {
	if t.RemoteID == nil {
		return nil
	}
	if !s.budget.TryAcquire() {
		_, err := s.store.Enqueue(ctx, &store.QueueEntry{
			TaskID:      t.ID,
			Operation:   store.OpUpdate,
			Target:      store.TargetLocal,
			Priority:    t.Status.Priority(),
			MaxRetries:  s.cfg.MaxRetries,
			ScheduledAt: s.now().Add(store.Backoff(1)),
		})
		if err != nil {
			return fmt.Errorf("failed to defer pull of task %d: %w", t.ID, err)
		}
		return nil
	}

	issue, err := s.client.GetIssue(ctx, *t.RemoteID)
	if err != nil {
		if remote.IsTemporary(err) {
			_, qerr := s.store.Enqueue(ctx, &store.QueueEntry{
				TaskID:       t.ID,
				Operation:    store.OpUpdate,
				Target:       store.TargetLocal,
				MaxRetries:   s.cfg.MaxRetries,
				ScheduledAt:  s.now().Add(store.Backoff(1)),
				ErrorMessage: err.Error(),
			})
			if qerr != nil {
				return fmt.Errorf("failed to defer pull of task %d: %w", t.ID, qerr)
			}
			return nil
		}
		return fmt.Errorf("remote read for task %d failed: %w", t.ID, err)
	}
	return s.processIncoming(ctx, issue.View())
}

// enqueuePush defers a remote write onto the queue.
func (s *Syncer) enqueuePush(ctx context.Context, t *task.Task, reason string) error {
	op := store.OpUpdate
	if t.RemoteID == nil {
		op = store.OpCreate
	}
	payload, err := json.Marshal(pushPayload{
		Title: t.Content,
		Body:  issueBody(t),
		State: task.StateForStatus(t.Status),
	})
	if err != nil {
		return fmt.Errorf("failed to encode queue payload for task %d: %w", t.ID, err)
	}

	// Scheduled one backoff step out so the pass that deferred it does
	// not immediately replay it.
	_, err = s.store.Enqueue(ctx, &store.QueueEntry{
		TaskID:       t.ID,
		Operation:    op,
		Target:       store.TargetRemote,
		Payload:      string(payload),
		Priority:     t.Status.Priority(),
		MaxRetries:   s.cfg.MaxRetries,
		ScheduledAt:  s.now().Add(store.Backoff(1)),
		ErrorMessage: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to defer push of task %d: %w", t.ID, err)
	}
	s.logger.Printf("Deferred push of task %d (%s): %s", t.ID, op, reason)
	return nil
}

// ingestSource folds the local task source into the store, flagging changed
// tasks for remote sync. Returns the number of records that produced a
// write.
func (s *Syncer) ingestSource(ctx context.Context) (int, error) {
	if s.scanner == nil {
		return 0, nil
	}
	changed := 0
	err := s.scanner.Each(ctx, func(r source.Record) error {
		existing, err := s.store.FindTaskBySource(ctx, r.Content, r.SessionID, r.ProjectPath)
		if errors.Is(err, store.ErrNotFound) {
			_, err := s.store.CreateTask(ctx, &task.Task{
				Content:         r.Content,
				Status:          r.Status,
				ActiveForm:      r.ActiveForm,
				SessionID:       r.SessionID,
				ProjectPath:     r.ProjectPath,
				NeedsRemoteSync: true,
			})
			if err != nil {
				return err
			}
			changed++
			return nil
		}
		if err != nil {
			return err
		}

		if existing.Status == r.Status && existing.ActiveForm == r.ActiveForm {
			return nil
		}
		if existing.ConflictDetected {
			return nil
		}
		on := true
		_, err = s.store.UpdateTask(ctx, existing.ID, store.TaskUpdate{
			Status:          &r.Status,
			ActiveForm:      &r.ActiveForm,
			NeedsRemoteSync: &on,
		})
		if err != nil {
			return err
		}
		changed++
		return nil
	})
	return changed, err
}

// dirtyForPush lists tasks awaiting a remote write, excluding frozen
// conflicts.
func (s *Syncer) dirtyForPush(ctx context.Context) ([]*task.Task, error) {
	on := true
	off := false
	return s.store.ListTasks(ctx, store.TaskFilter{
		NeedsRemoteSync:  &on,
		ConflictDetected: &off,
	})
}

// incrementalPush pushes only tasks flagged dirty toward the remote.
func (s *Syncer) incrementalPush(ctx context.Context) (processed, errs int) {
	if _, err := s.ingestSource(ctx); err != nil {
		s.logger.Printf("Warning: source ingest failed: %v", err)
	}
	dirty, err := s.dirtyForPush(ctx)
	if err != nil {
		s.logger.Printf("Warning: failed to list dirty tasks: %v", err)
		return 0, 1
	}
	for _, t := range dirty {
		if ctx.Err() != nil {
			return processed, errs
		}
		if err := s.pushTask(ctx, t); err != nil {
			errs++
			s.logger.Printf("Warning: failed to push task %d: %v", t.ID, err)
			continue
		}
		processed++
	}
	return processed, errs
}

// incrementalPull refreshes only tasks flagged dirty from the remote.
func (s *Syncer) incrementalPull(ctx context.Context) (processed, errs int) {
	on := true
	off := false
	stale, err := s.store.ListTasks(ctx, store.TaskFilter{
		NeedsLocalSync:   &on,
		ConflictDetected: &off,
	})
	if err != nil {
		s.logger.Printf("Warning: failed to list stale tasks: %v", err)
		return 0, 1
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			return processed, errs
		}
		if err := s.pullTask(ctx, t); err != nil {
			errs++
			s.logger.Printf("Warning: failed to pull task %d: %v", t.ID, err)
			continue
		}
		processed++
	}
	return processed, errs
}

// issueBody renders the tracker body for a task. Provenance rides in the
// body so a human reading the issue can trace it back.
func issueBody(t *task.Task) string {
	var b strings.Builder
	if t.ActiveForm != "" {
		b.WriteString(t.ActiveForm)
		b.WriteString("\n\n")
	}
	if t.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", t.SessionID)
	}
	if t.ProjectPath != "" {
		fmt.Fprintf(&b, "Project: %s\n", t.ProjectPath)
	}
	return strings.TrimRight(b.String(), "\n")
}
