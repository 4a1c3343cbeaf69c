// Package event defines the typed domain events the sync engine emits and
// a bounded fan-out bus that decouples the engine from its observers.
package event

import (
	"sync"
	"time"
)

// Type identifies an event's kind.
type Type string

const (
	TypeSyncStarted      Type = "sync_started"
	TypeSyncCompleted    Type = "sync_completed"
	TypeSyncError        Type = "sync_error"
	TypeConflictDetected Type = "conflict_detected"
	TypeTaskSynced       Type = "task_synced"
)

// Event is one emitted domain event. Payload holds one of the typed
// payload structs below depending on Type.
type Event struct {
	Type      Type        `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// SyncStarted reports that a sync pass began.
type SyncStarted struct {
	Kind string `json:"kind"` // full_sync or incremental_sync
}

// SyncCompleted reports the outcome of a finished sync pass.
type SyncCompleted struct {
	Kind      string        `json:"kind"`
	Duration  time.Duration `json:"duration"`
	Processed int           `json:"processed"`
	Errors    int           `json:"errors"`
}

// SyncError reports a pass-level sync failure.
type SyncError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ConflictDetected reports a disagreement that needs attention.
type ConflictDetected struct {
	TaskID   int64  `json:"task_id"`
	Severity string `json:"severity"`
	Strategy string `json:"strategy"`
	Manual   bool   `json:"manual"`
}

// TaskSynced reports a single task converging on one side.
type TaskSynced struct {
	TaskID    int64  `json:"task_id"`
	RemoteID  int64  `json:"remote_id,omitempty"`
	Direction string `json:"direction"` // to_remote or from_remote
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the
// sync engine.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
}

// NewBus returns a bus whose subscriber channels buffer bufSize events.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new observer. The returned cancel function must be
// called to release the subscription; the channel is closed on cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber, stamping the time if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the engine.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
