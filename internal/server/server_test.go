package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tasksync-dev/tasksync/internal/event"
	"github.com/tasksync-dev/tasksync/internal/remote"
	"github.com/tasksync-dev/tasksync/internal/store"
	"github.com/tasksync-dev/tasksync/internal/syncer"
	"github.com/tasksync-dev/tasksync/internal/task"
)

const testSecret = "hunter2"

// nullClient satisfies remote.Client for flows that never reach the
// tracker.
type nullClient struct{}

func (nullClient) ListIssues(ctx context.Context, label string, page, perPage int) ([]*remote.Issue, error) {
	return nil, nil
}
func (nullClient) GetIssue(ctx context.Context, number int64) (*remote.Issue, error) {
	return nil, &remote.APIError{StatusCode: 404, Message: "not found"}
}
func (nullClient) CreateIssue(ctx context.Context, req remote.IssueRequest) (*remote.Issue, error) {
	return nil, &remote.APIError{StatusCode: 404, Message: "not found"}
}
func (nullClient) UpdateIssue(ctx context.Context, number int64, req remote.IssueRequest) (*remote.Issue, error) {
	return nil, &remote.APIError{StatusCode: 404, Message: "not found"}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	logger := log.New(os.Stderr, "[test] ", 0)
	bus := event.NewBus(16)
	sy := syncer.New(st, nullClient{}, nil, bus, syncer.Config{Label: "tasksync", Logger: logger})
	srv := New(sy, bus, Options{WebhookSecret: testSecret, Logger: logger})

	ts := httptest.NewServer(srv.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return ts, st
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, ts *httptest.Server, body []byte, signature string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/webhook", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "issues")
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestWebhookAppliesIssue(t *testing.T) {
	ts, st := newTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"action": "opened",
		"issue": map[string]interface{}{
			"id": 9001, "number": 77,
			"title": "Webhook task", "body": "delivered",
			"state":      "open",
			"updated_at": time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})

	resp := postWebhook(t, ts, body, sign(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	got, err := st.GetTaskByRemoteID(context.Background(), 77)
	if err != nil {
		t.Fatalf("delivered issue not applied: %v", err)
	}
	if got.Content != "Webhook task" || got.Status != task.StatusPending {
		t.Errorf("task = %+v", got)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	ts, st := newTestServer(t)

	body := []byte(`{"action":"opened","issue":{"number":78,"title":"Forged","state":"open"}}`)
	resp := postWebhook(t, ts, body, "sha256=deadbeef")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged delivery status = %d, want 401", resp.StatusCode)
	}

	resp2 := postWebhook(t, ts, body, "")
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned delivery status = %d, want 401", resp2.StatusCode)
	}

	if _, err := st.GetTaskByRemoteID(context.Background(), 78); err == nil {
		t.Error("rejected delivery must not touch the store")
	}
}

func TestWebhookIgnoresIrrelevantActions(t *testing.T) {
	ts, st := newTestServer(t)

	body := []byte(`{"action":"deleted","issue":{"number":79,"title":"Gone","state":"closed"}}`)
	resp := postWebhook(t, ts, body, sign(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, err := st.GetTaskByRemoteID(context.Background(), 79); err == nil {
		t.Error("deleted action must be ignored")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var payload struct {
		Status  string `json:"status"`
		Syncing bool   `json:"syncing"`
		Budget  int    `json:"budget"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "ok" || payload.Syncing {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Budget != 5000 {
		t.Errorf("budget = %d, want the untouched default", payload.Budget)
	}
}

func TestSyncTriggerAccepted(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}
