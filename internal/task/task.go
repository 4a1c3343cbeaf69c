// Package task defines the task record, the unit of synchronization between
// the local store and the remote issue tracker.
package task

import (
	"fmt"
	"time"
)

// Status is the local lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Remote issue states as reported by the tracker.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Ordinal returns the position of s in the lifecycle sequence
// pending -> in_progress -> completed, or -1 for unknown statuses.
func (s Status) Ordinal() int {
	switch s {
	case StatusPending:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

// Priority maps a status to its completion priority. Completed work
// outranks in-progress work, which outranks pending work.
func (s Status) Priority() int {
	switch s {
	case StatusCompleted:
		return 3
	case StatusInProgress:
		return 2
	case StatusPending:
		return 1
	}
	return 0
}

// StateForStatus maps a local status to the remote issue state.
// Only completed tasks close their issue; everything else stays open.
func StateForStatus(s Status) string {
	if s == StatusCompleted {
		return StateClosed
	}
	return StateOpen
}

// StatusForState maps a remote issue state to a local status. An open
// issue never implies in_progress; it defaults to pending. Unknown
// states are treated as open.
func StatusForState(state string) Status {
	if state == StateClosed {
		return StatusCompleted
	}
	return StatusPending
}

// Task is a synchronized task record. A row in the tasks table mirrors at
// most one remote issue; RemoteID is nil until the first successful push
// and immutable afterwards.
type Task struct {
	ID int64 `json:"id"`

	// Local content fields.
	Content    string `json:"content"`
	Status     Status `json:"status"`
	ActiveForm string `json:"active_form,omitempty"`

	// Provenance; (Content, SessionID, ProjectPath) is unique.
	SessionID   string `json:"session_id,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Remote linkage mirror. These are provenance, not contested data:
	// conflict resolution always copies them from the remote side.
	RemoteID           *int64     `json:"remote_id,omitempty"`
	RemoteInternalID   *int64     `json:"remote_internal_id,omitempty"`
	RemoteState        string     `json:"remote_state,omitempty"`
	RemoteTitle        string     `json:"remote_title,omitempty"`
	RemoteBody         string     `json:"remote_body,omitempty"`
	RemoteSyncedAt     *time.Time `json:"remote_synced_at,omitempty"`
	RemoteLastModified *time.Time `json:"remote_last_modified,omitempty"`

	// Sync bookkeeping.
	SyncVersion      int64  `json:"sync_version"`
	LastSyncHash     string `json:"last_sync_hash,omitempty"`
	ConflictDetected bool   `json:"conflict_detected"`
	NeedsRemoteSync  bool   `json:"needs_remote_sync"`
	NeedsLocalSync   bool   `json:"needs_local_sync"`
}

// Validate checks the structural invariants of a task record.
func (t *Task) Validate() error {
	if t.Content == "" {
		return fmt.Errorf("content is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	return nil
}

// Clone returns a deep copy of t. Pointer fields are duplicated so the
// copy can be mutated without touching the original.
func (t *Task) Clone() *Task {
	c := *t
	c.RemoteID = cloneInt64(t.RemoteID)
	c.RemoteInternalID = cloneInt64(t.RemoteInternalID)
	c.RemoteSyncedAt = cloneTime(t.RemoteSyncedAt)
	c.RemoteLastModified = cloneTime(t.RemoteLastModified)
	return &c
}

// RemoteView is a tracker-neutral snapshot of a remote issue, shaped for
// comparison against a local task.
type RemoteView struct {
	Number     int64
	InternalID int64
	Title      string
	Body       string
	State      string
	Status     Status
	UpdatedAt  time.Time
}

// AsTask converts a remote snapshot into the task a fresh pull of that
// issue would produce, with sessionless provenance.
func (v RemoteView) AsTask() *Task {
	now := time.Now().UTC()
	num := v.Number
	iid := v.InternalID
	mod := v.UpdatedAt
	return &Task{
		Content:            v.Title,
		Status:             v.Status,
		CreatedAt:          now,
		UpdatedAt:          now,
		RemoteID:           &num,
		RemoteInternalID:   &iid,
		RemoteState:        v.State,
		RemoteTitle:        v.Title,
		RemoteBody:         v.Body,
		RemoteLastModified: &mod,
		SyncVersion:        1,
	}
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
