package ratelimit

import (
	"testing"
	"time"
)

func TestWindowExhaustion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(3, time.Hour)
	w.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !w.TryAcquire() {
			t.Fatalf("acquire %d should succeed", i)
		}
	}
	if w.TryAcquire() {
		t.Error("acquire beyond the limit should fail")
	}
	if got := w.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestWindowRollsForward(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(2, time.Hour)
	w.SetClock(func() time.Time { return now })

	if !w.TryAcquire() || !w.TryAcquire() {
		t.Fatal("initial grants should succeed")
	}
	if w.TryAcquire() {
		t.Fatal("window should be full")
	}

	// 30 minutes later the early grants are still inside the hour.
	now = now.Add(30 * time.Minute)
	if w.TryAcquire() {
		t.Error("grants must count for a full rolling hour")
	}

	// Just past the hour the oldest grants expire.
	now = now.Add(31 * time.Minute)
	if !w.TryAcquire() {
		t.Error("expired grants should free budget")
	}
	if got := w.Remaining(); got != 1 {
		t.Errorf("Remaining() = %d, want 1", got)
	}
}
