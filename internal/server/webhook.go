package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tasksync-dev/tasksync/internal/remote"
)

const maxWebhookBody = 1 << 20

// webhookEvent is the subset of a tracker "issues" delivery we act on.
type webhookEvent struct {
	Action string        `json:"action"`
	Issue  *remote.Issue `json:"issue"`
}

// handleWebhook applies a single issue change pushed by the tracker. The
// signature is verified over the raw body before any parsing happens.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if !s.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		s.logger.Printf("Warning: webhook signature mismatch from %s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if kind := r.Header.Get("X-GitHub-Event"); kind != "" && kind != "issues" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if ev.Issue == nil || !actionable(ev.Action) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.syncer.SyncIssueToLocal(ctx, ev.Issue); err != nil {
		s.logger.Printf("Warning: webhook sync of issue #%d failed: %v", ev.Issue.Number, err)
		http.Error(w, "sync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

// verifySignature checks the HMAC-SHA256 signature header against the raw
// body using a constant-time compare.
func (s *Server) verifySignature(header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}

// Issue deletions are left alone locally; everything else that changes an
// issue's visible state flows through.
func actionable(action string) bool {
	switch action {
	case "opened", "edited", "closed", "reopened", "labeled":
		return true
	}
	return false
}
