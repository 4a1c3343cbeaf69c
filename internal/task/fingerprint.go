package task

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable hash over the semantically significant
// fields of a task: content, status, active form, and the remote
// state/title/body mirror. Timestamps and sync bookkeeping are deliberately
// excluded so that cosmetic-only edits do not register as change.
func (t *Task) Fingerprint() string {
	return fingerprint(t.Content, string(t.Status), t.ActiveForm,
		t.RemoteState, t.RemoteTitle, t.RemoteBody)
}

// Fingerprint returns the fingerprint a task synced from this snapshot
// would carry. Comparing it against a stored LastSyncHash tells whether
// the remote side actually changed since the last observed sync.
func (v RemoteView) Fingerprint() string {
	return fingerprint(v.Title, string(v.Status), "",
		v.State, v.Title, v.Body)
}

func fingerprint(fields ...string) string {
	h := sha256.New()
	// Unit separator keeps adjacent fields from colliding.
	h.Write([]byte(strings.Join(fields, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
