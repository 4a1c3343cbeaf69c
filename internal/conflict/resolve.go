package conflict

import (
	"github.com/tasksync-dev/tasksync/internal/task"
)

// Strategy is the closed set of resolution strategies. The zero value is
// StrategyAuto, which selects a concrete strategy from the detected
// conflicts.
type Strategy int

const (
	StrategyAuto Strategy = iota
	StrategyNoConflict
	StrategyRemoteWins
	StrategyLocalWins
	StrategyTimestamp
	StrategyStatusPriority
	StrategyContentLength
	StrategyMerged
	StrategyManualRequired
)

func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategyNoConflict:
		return "no_conflict"
	case StrategyRemoteWins:
		return "remote_wins"
	case StrategyLocalWins:
		return "local_wins"
	case StrategyTimestamp:
		return "timestamp"
	case StrategyStatusPriority:
		return "status_priority"
	case StrategyContentLength:
		return "content_length"
	case StrategyMerged:
		return "merged"
	case StrategyManualRequired:
		return "manual_required"
	}
	return "unknown"
}

// Result is the outcome of a resolution attempt. CanResolve=false means the
// disagreement needs human review; the caller must flag the task and stop
// auto-syncing it.
type Result struct {
	CanResolve   bool
	StrategyUsed Strategy
	Resolved     *task.Task
	Conflicts    []Conflict
}

// Resolve detects conflicts between local and remote and applies the given
// strategy (or selects one when strategy is StrategyAuto). A panicking
// strategy is reported as CanResolve=false with StrategyManualRequired;
// Resolve never panics.
func Resolve(local *task.Task, remote task.RemoteView, strategy Strategy) (result Result) {
	conflicts := Detect(local, remote)

	if len(conflicts) == 0 {
		return Result{
			CanResolve:   true,
			StrategyUsed: StrategyNoConflict,
			Resolved:     applyRemote(local, remote),
		}
	}

	if strategy == StrategyAuto {
		strategy = selectStrategy(conflicts)
	}

	defer func() {
		if r := recover(); r != nil {
			result = Result{
				CanResolve:   false,
				StrategyUsed: StrategyManualRequired,
				Conflicts:    conflicts,
			}
		}
	}()

	resolved := apply(strategy, local, remote, conflicts)
	if resolved == nil {
		return Result{
			CanResolve:   false,
			StrategyUsed: StrategyManualRequired,
			Conflicts:    conflicts,
		}
	}
	return Result{
		CanResolve:   true,
		StrategyUsed: strategy,
		Resolved:     resolved,
		Conflicts:    conflicts,
	}
}

// selectStrategy picks the automatic strategy for a set of conflicts:
// minor overall severity merges; status disagreements defer to status
// priority; heavily diverged or lone timestamp conflicts defer to the
// newer side; everything else merges field by field.
func selectStrategy(conflicts []Conflict) Strategy {
	if Overall(conflicts) == SeverityMinor {
		return StrategyMerged
	}
	var hasStatus bool
	var lowSimContent bool
	for _, c := range conflicts {
		switch c.Type {
		case TypeStatus:
			hasStatus = true
		case TypeContent:
			if c.Similarity < 0.3 {
				lowSimContent = true
			}
		}
	}
	if hasStatus {
		return StrategyStatusPriority
	}
	if lowSimContent {
		return StrategyTimestamp
	}
	if len(conflicts) == 1 && conflicts[0].Type == TypeTimestamp {
		return StrategyTimestamp
	}
	return StrategyMerged
}

func apply(strategy Strategy, local *task.Task, remote task.RemoteView, conflicts []Conflict) *task.Task {
	switch strategy {
	case StrategyRemoteWins:
		return applyRemote(local, remote)
	case StrategyLocalWins:
		return applyLocal(local, remote)
	case StrategyTimestamp:
		return applyTimestamp(local, remote)
	case StrategyStatusPriority:
		return applyStatusPriority(local, remote)
	case StrategyContentLength:
		return applyContentLength(local, remote)
	case StrategyMerged:
		return applyMerged(local, remote, conflicts)
	}
	return nil
}

// applyRemote adopts the remote content, status, and state verbatim and
// clears both dirty flags: nothing remains to push or pull.
func applyRemote(local *task.Task, remote task.RemoteView) *task.Task {
	c := local.Clone()
	c.Content = remote.Title
	c.Status = remote.Status
	mirrorRemote(c, remote)
	c.NeedsRemoteSync = false
	c.NeedsLocalSync = false
	return c
}

// applyLocal keeps local fields and marks the task for an outward push so
// the remote side converges to the local state.
func applyLocal(local *task.Task, remote task.RemoteView) *task.Task {
	c := local.Clone()
	mirrorRemote(c, remote)
	c.NeedsRemoteSync = true
	c.NeedsLocalSync = false
	return c
}

// applyTimestamp lets the strictly newer side win. Equal timestamps fall to
// the remote side, which keeps replays convergent.
func applyTimestamp(local *task.Task, remote task.RemoteView) *task.Task {
	if local.UpdatedAt.After(remote.UpdatedAt) {
		return applyLocal(local, remote)
	}
	return applyRemote(local, remote)
}

// applyStatusPriority lets the further-progressed status win
// (completed > in_progress > pending); ties fall back to timestamps.
func applyStatusPriority(local *task.Task, remote task.RemoteView) *task.Task {
	lp, rp := local.Status.Priority(), remote.Status.Priority()
	switch {
	case lp > rp:
		return applyLocal(local, remote)
	case rp > lp:
		return applyRemote(local, remote)
	}
	return applyTimestamp(local, remote)
}

// applyContentLength assumes longer content is more detailed and lets it
// win; ties fall to the remote side.
func applyContentLength(local *task.Task, remote task.RemoteView) *task.Task {
	if len(local.Content) > len(remote.Title) {
		return applyLocal(local, remote)
	}
	return applyRemote(local, remote)
}

// applyMerged starts from the local record and resolves each detected
// conflict with a field-level rule: longer content, higher-priority status,
// more recent timestamp.
func applyMerged(local *task.Task, remote task.RemoteView, conflicts []Conflict) *task.Task {
	c := local.Clone()
	for _, cf := range conflicts {
		switch cf.Type {
		case TypeContent:
			if len(remote.Title) > len(c.Content) {
				c.Content = remote.Title
			}
		case TypeStatus:
			lp, rp := c.Status.Priority(), remote.Status.Priority()
			if rp > lp {
				c.Status = remote.Status
			} else if rp == lp && remote.UpdatedAt.After(c.UpdatedAt) {
				c.Status = remote.Status
			}
		case TypeTimestamp:
			if remote.UpdatedAt.After(c.UpdatedAt) {
				c.UpdatedAt = remote.UpdatedAt
			}
		}
	}
	mirrorRemote(c, remote)

	// Any field the local side won still has to be pushed outward.
	c.NeedsRemoteSync = c.Content != remote.Title || c.Status != remote.Status
	c.NeedsLocalSync = false
	return c
}

// mirrorRemote copies the remote metadata mirror onto the resolved record.
// These fields are provenance, not contested data, so every strategy takes
// them from the remote side.
func mirrorRemote(c *task.Task, remote task.RemoteView) {
	c.RemoteState = remote.State
	c.RemoteTitle = remote.Title
	c.RemoteBody = remote.Body
	mod := remote.UpdatedAt
	c.RemoteLastModified = &mod
}
