package optimizer

import (
	"sort"

	"github.com/tasksync-dev/tasksync/internal/task"
)

// Priority weights. Conflicted and dirty tasks jump the queue; recency is
// a small pairwise tiebreaker.
const (
	weightConflict = 20
	weightDirty    = 15
	weightRecency  = 3
)

func statusWeight(s task.Status) int {
	switch s {
	case task.StatusInProgress:
		return 3
	case task.StatusPending:
		return 2
	case task.StatusCompleted:
		return 1
	}
	return 0
}

func baseScore(t *task.Task) int {
	score := statusWeight(t.Status)
	if t.ConflictDetected {
		score += weightConflict
	}
	if t.NeedsRemoteSync || t.NeedsLocalSync {
		score += weightDirty
	}
	return score
}

// Prioritize returns tasks ordered so the highest-scoring items are
// serviced first. The more recently updated of two otherwise comparable
// tasks gets a small recency bonus. The input slice is not modified.
func Prioritize(tasks []*task.Task) []*task.Task {
	ordered := make([]*task.Task, len(tasks))
	copy(ordered, tasks)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		sa, sb := baseScore(a), baseScore(b)
		if a.UpdatedAt.After(b.UpdatedAt) {
			sa += weightRecency
		} else if b.UpdatedAt.After(a.UpdatedAt) {
			sb += weightRecency
		}
		return sa > sb
	})
	return ordered
}
