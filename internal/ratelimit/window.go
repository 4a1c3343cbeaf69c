// Package ratelimit provides a rolling-window request budget.
package ratelimit

import (
	"sync"
	"time"
)

// Window admits at most limit acquisitions within any rolling span. It is
// safe for concurrent use; the clock is injectable for deterministic tests.
type Window struct {
	limit int
	span  time.Duration
	now   func() time.Time

	mu     sync.Mutex
	grants []time.Time
}

// NewWindow returns a budget of limit acquisitions per span.
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{
		limit: limit,
		span:  span,
		now:   time.Now,
	}
}

// SetClock overrides the window's time source. Intended for tests.
func (w *Window) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// TryAcquire consumes one unit of budget if available. It never blocks;
// callers that receive false must defer their work instead of retrying.
func (w *Window) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	if len(w.grants) >= w.limit {
		return false
	}
	w.grants = append(w.grants, w.now())
	return true
}

// Remaining reports how many acquisitions are left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	return w.limit - len(w.grants)
}

// prune drops grants that have aged out of the rolling window.
// Callers must hold mu.
func (w *Window) prune() {
	cutoff := w.now().Add(-w.span)
	i := 0
	for i < len(w.grants) && !w.grants[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.grants = append(w.grants[:0], w.grants[i:]...)
	}
}
