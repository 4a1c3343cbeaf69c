package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tasksync-dev/tasksync/internal/conflict"
	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/task"
)

// pullPhase pages through every remote issue carrying the sync label and
// reconciles each against the local store. A list failure aborts the phase;
// a partial listing cannot be reconciled safely. Per-issue failures are
// counted and the phase continues.
func (s *Syncer) pullPhase(ctx context.Context) (processed, errs int, fatal error) {
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return processed, errs, err
		}
		if !s.budget.TryAcquire() {
			s.logger.Printf("Rate budget exhausted during pull at page %d; remaining issues deferred to next pass", page)
			return processed, errs, nil
		}

		issues, err := s.client.ListIssues(ctx, s.cfg.Label, page, s.cfg.PageSize)
		if err != nil {
			return processed, errs, fmt.Errorf("failed to list issues (page %d): %w", page, err)
		}
		if len(issues) == 0 {
			return processed, errs, nil
		}

		for _, issue := range issues {
			if err := ctx.Err(); err != nil {
				return processed, errs, err
			}
			if err := s.processIncoming(ctx, issue.View()); err != nil {
				errs++
				s.logger.Printf("Warning: failed to sync issue #%d: %v", issue.Number, err)
				continue
			}
			processed++
		}

		if len(issues) < s.cfg.PageSize {
			return processed, errs, nil
		}
		page++
	}
}

// processIncoming reconciles one remote issue snapshot with the local
// store. last_sync_hash holds the remote fingerprint captured at the last
// successful sync, so an unchanged remote is one whose fingerprint still
// matches it; local-side edits are tracked by the needs_remote_sync flag.
func (s *Syncer) processIncoming(ctx context.Context, view task.RemoteView) error {
	t, err := s.store.GetTaskByRemoteID(ctx, view.Number)
	if errors.Is(err, store.ErrNotFound) {
		return s.adoptIssue(ctx, view)
	}
	if err != nil {
		return err
	}

	if t.ConflictDetected {
		// Frozen until a user clears the conflict.
		return nil
	}

	remoteFP := view.Fingerprint()
	if remoteFP == t.LastSyncHash {
		// Remote unchanged since we last saw it.
		return nil
	}

	if !t.NeedsRemoteSync {
		// Remote changed, local clean: fast-forward.
		return s.applyResolved(ctx, t, view, view.AsTask(), remoteFP)
	}

	// Both sides changed since the last sync point.
	return s.reconcileConflict(ctx, t, view, remoteFP)
}

// adoptIssue creates a local task for a remote issue we have never seen.
func (s *Syncer) adoptIssue(ctx context.Context, view task.RemoteView) error {
	nt := view.AsTask()
	nt.LastSyncHash = view.Fingerprint()
	syncedAt := s.now().UTC()
	nt.RemoteSyncedAt = &syncedAt

	created, err := s.store.CreateTask(ctx, nt)
	if err != nil {
		return fmt.Errorf("failed to adopt issue #%d: %w", view.Number, err)
	}
	s.publish(event.TypeTaskSynced, event.TaskSynced{
		TaskID: created.ID, RemoteID: view.Number, Direction: "from_remote",
	})
	return nil
}

// reconcileConflict runs auto-resolution over a task whose both sides
// diverged. An unresolvable conflict freezes the task and leaves an
// unresolved audit row for the user.
func (s *Syncer) reconcileConflict(ctx context.Context, t *task.Task, view task.RemoteView, remoteFP string) error {
	res := conflict.Resolve(t, view, conflict.StrategyAuto)

	recordID, err := s.store.RecordConflict(ctx, t.ID, t, view)
	if err != nil {
		s.logger.Printf("Warning: failed to record conflict for task %d: %v", t.ID, err)
	}

	severity := conflict.Overall(res.Conflicts)

	if !res.CanResolve {
		flag := true
		if _, err := s.store.UpdateTask(ctx, t.ID, store.TaskUpdate{ConflictDetected: &flag}); err != nil {
			return fmt.Errorf("failed to flag conflict on task %d: %w", t.ID, err)
		}
		s.publish(event.TypeConflictDetected, event.ConflictDetected{
			TaskID:   t.ID,
			Severity: severity.String(),
			Strategy: res.StrategyUsed.String(),
			Manual:   true,
		})
		s.logger.Printf("Conflict on task %d requires manual resolution (severity=%s)", t.ID, severity)
		return nil
	}

	if err := s.applyResolved(ctx, t, view, res.Resolved, remoteFP); err != nil {
		return err
	}
	if recordID != 0 {
		if err := s.store.ResolveConflict(ctx, recordID, res.StrategyUsed.String(), store.ResolvedByAuto); err != nil {
			s.logger.Printf("Warning: failed to mark conflict %d resolved: %v", recordID, err)
		}
	}
	s.publish(event.TypeConflictDetected, event.ConflictDetected{
		TaskID:   t.ID,
		Severity: severity.String(),
		Strategy: res.StrategyUsed.String(),
	})
	return nil
}

// applyResolved writes a resolved (or fast-forwarded) task state back to
// the store, stamping the sync point.
func (s *Syncer) applyResolved(ctx context.Context, t *task.Task, view task.RemoteView, resolved *task.Task, remoteFP string) error {
	syncedAt := s.now().UTC()
	off := false

	upd := store.TaskUpdate{
		Content:            &resolved.Content,
		Status:             &resolved.Status,
		RemoteInternalID:   &view.InternalID,
		RemoteState:        &view.State,
		RemoteTitle:        &view.Title,
		RemoteBody:         &view.Body,
		RemoteSyncedAt:     &syncedAt,
		RemoteLastModified: &view.UpdatedAt,
		LastSyncHash:       &remoteFP,
		NeedsLocalSync:     &off,
		NeedsRemoteSync:    &resolved.NeedsRemoteSync,
	}
	if _, err := s.store.UpdateTask(ctx, t.ID, upd); err != nil {
		return fmt.Errorf("failed to apply remote state to task %d: %w", t.ID, err)
	}
	s.publish(event.TypeTaskSynced, event.TaskSynced{
		TaskID: t.ID, RemoteID: view.Number, Direction: "from_remote",
	})
	return nil
}
