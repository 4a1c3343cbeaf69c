package task

import (
	"testing"
	"time"
)

func TestStatusStateMapping(t *testing.T) {
	if StateForStatus(StatusCompleted) != StateClosed {
		t.Error("completed must map to closed")
	}
	for _, s := range []Status{StatusPending, StatusInProgress} {
		if StateForStatus(s) != StateOpen {
			t.Errorf("%s must map to open", s)
		}
	}

	// in_progress is unrepresentable remotely, so open never restores it.
	if StatusForState(StateOpen) != StatusPending {
		t.Error("open must map to pending")
	}
	if StatusForState(StateClosed) != StatusCompleted {
		t.Error("closed must map to completed")
	}
}

func TestFingerprintIgnoresBookkeeping(t *testing.T) {
	a := &Task{Content: "Fix auth bug", Status: StatusPending}
	b := a.Clone()
	b.ID = 99
	b.UpdatedAt = time.Now()
	b.SyncVersion = 7
	b.LastSyncHash = "stale"
	b.NeedsRemoteSync = true

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("bookkeeping fields must not affect the fingerprint")
	}

	b.Content = "Fix auth bug properly"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("content edits must change the fingerprint")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	a := &Task{Content: "ab", Status: Status("c")}
	b := &Task{Content: "a", Status: Status("bc")}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("adjacent fields must not collide")
	}
}

func TestRemoteViewFingerprintMatchesAdoptedTask(t *testing.T) {
	v := RemoteView{
		Number: 5, InternalID: 1005,
		Title: "Remote task", Body: "details",
		State: StateOpen, Status: StatusPending,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if v.Fingerprint() != v.AsTask().Fingerprint() {
		t.Error("a task adopted from a snapshot must fingerprint like the snapshot")
	}
}

func TestCloneIsDeep(t *testing.T) {
	rid := int64(7)
	mod := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &Task{Content: "Original", RemoteID: &rid, RemoteLastModified: &mod}

	b := a.Clone()
	*b.RemoteID = 8
	*b.RemoteLastModified = mod.Add(time.Hour)

	if *a.RemoteID != 7 {
		t.Error("clone shares the RemoteID pointer")
	}
	if !a.RemoteLastModified.Equal(mod) {
		t.Error("clone shares the RemoteLastModified pointer")
	}
}

func TestValidate(t *testing.T) {
	good := &Task{Content: "Something", Status: StatusPending}
	if err := good.Validate(); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
	if err := (&Task{Status: StatusPending}).Validate(); err == nil {
		t.Error("empty content must be rejected")
	}
	if err := (&Task{Content: "x", Status: Status("unknown")}).Validate(); err == nil {
		t.Error("unknown status must be rejected")
	}
}
