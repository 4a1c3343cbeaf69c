package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/task"
)

// drainQueue replays deferred work, at most DrainBatch entries per target
// per pass so a long backlog cannot starve the rest of the cycle. Entries
// that fail again are rescheduled with backoff by the store; entries whose
// retries are spent become dead letters there.
func (s *Syncer) drainQueue(ctx context.Context) (processed, errs int) {
	for _, target := range []string{store.TargetRemote, store.TargetLocal} {
		entries, err := s.store.NextBatch(ctx, target, s.cfg.DrainBatch)
		if err != nil {
			errs++
			s.logger.Printf("Warning: failed to read %s queue: %v", target, err)
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return processed, errs
			}
			if !s.budget.TryAcquire() {
				s.logger.Printf("Rate budget exhausted during queue drain; %s entries stay scheduled", target)
				break
			}
			if err := s.replayEntry(ctx, e); err != nil {
				errs++
				s.logger.Printf("Warning: queue entry %d (task %d, %s %s) failed: %v",
					e.ID, e.TaskID, e.Operation, e.Target, err)
				if merr := s.store.MarkFailed(ctx, e.ID, err.Error()); merr != nil {
					s.logger.Printf("Warning: failed to record queue failure %d: %v", e.ID, merr)
				}
				continue
			}
			if err := s.store.MarkComplete(ctx, e.ID); err != nil {
				s.logger.Printf("Warning: failed to complete queue entry %d: %v", e.ID, err)
			}
			processed++
		}
	}
	return processed, errs
}

// replayEntry re-attempts one deferred operation against its target.
func (s *Syncer) replayEntry(ctx context.Context, e *store.QueueEntry) error {
	t, err := s.store.GetTask(ctx, e.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		// Task removed since the entry was queued; nothing left to do.
		return nil
	}
	if err != nil {
		return err
	}
	if t.ConflictDetected {
		return fmt.Errorf("task %d is frozen on an unresolved conflict", t.ID)
	}

	if e.Target == store.TargetLocal {
		if t.RemoteID == nil {
			return nil
		}
		issue, err := s.client.GetIssue(ctx, *t.RemoteID)
		if err != nil {
			return err
		}
		return s.processIncoming(ctx, issue.View())
	}

	if !t.NeedsRemoteSync {
		// A later direct push or an adopted remote state already brought
		// the row clean; the queued write is obsolete.
		return nil
	}

	// Replay the row's current state, not the queued snapshot. The task
	// may have been edited again since the write was deferred, and pushing
	// the older snapshot would overwrite the remote with stale content
	// while confirmPush marks the newer edit clean.
	title := t.Content
	body := issueBody(t)
	state := task.StateForStatus(t.Status)

	var issue *remote.Issue
	switch {
	case e.Operation == store.OpCreate && t.RemoteID == nil:
		issue, err = s.client.CreateIssue(ctx, remote.IssueRequest{
			Title:  &title,
			Body:   &body,
			State:  &state,
			Labels: []string{s.cfg.Label},
		})
	case t.RemoteID != nil:
		issue, err = s.client.UpdateIssue(ctx, *t.RemoteID, remote.IssueRequest{
			Title: &title,
			Body:  &body,
			State: &state,
		})
	default:
		return fmt.Errorf("update queued for task %d with no remote binding", t.ID)
	}
	if err != nil {
		return err
	}
	return s.confirmPush(ctx, t, issue)
}
