package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tasksync-dev/tasksync/internal/task"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewHTTPClient(Options{
		BaseURL:           ts.URL,
		Repo:              "acme/tasks",
		Token:             "tok-123",
		RequestsPerSecond: 1000, // tests should not pace
	})
}

func TestListIssuesRequestShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/tasks/issues" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("labels") != "tasksync" || q.Get("state") != "all" {
			t.Errorf("query = %v", q)
		}
		if q.Get("page") != "2" || q.Get("per_page") != "50" {
			t.Errorf("pagination = %v", q)
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `[{"number":1,"title":"One","state":"open"}]`)
	})

	issues, err := c.ListIssues(context.Background(), "tasksync", 2, 50)
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	if len(issues) != 1 || issues[0].Title != "One" {
		t.Errorf("issues = %+v", issues)
	}
}

func TestCreateIssueSendsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var req IssueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Title == nil || *req.Title != "New task" {
			t.Errorf("request = %+v", req)
		}
		if len(req.Labels) != 1 || req.Labels[0] != "tasksync" {
			t.Errorf("labels = %v", req.Labels)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":1001,"number":5,"title":"New task","state":"open"}`)
	})

	title := "New task"
	issue, err := c.CreateIssue(context.Background(), IssueRequest{Title: &title, Labels: []string{"tasksync"}})
	if err != nil {
		t.Fatalf("CreateIssue: %v", err)
	}
	if issue.Number != 5 || issue.ID != 1001 {
		t.Errorf("issue = %+v", issue)
	}
}

func TestErrorClassification(t *testing.T) {
	transient := []int{403, 429, 500, 502, 503, 504}
	for _, code := range transient {
		err := &APIError{StatusCode: code}
		if !IsTemporary(err) {
			t.Errorf("status %d should classify as temporary", code)
		}
	}
	for _, code := range []int{400, 404, 410, 422} {
		err := &APIError{StatusCode: code}
		if IsTemporary(err) {
			t.Errorf("status %d should classify as terminal", code)
		}
	}
	if IsTemporary(errors.New("some other failure")) {
		t.Error("non-API errors are not temporary")
	}
}

func TestAPIErrorSurfacesFromServer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.GetIssue(context.Background(), 9)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 429 || !IsTemporary(err) {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestIssueViewMapping(t *testing.T) {
	open := &Issue{Number: 3, ID: 1003, Title: "T", State: "open"}
	if v := open.View(); v.Status != task.StatusPending {
		t.Errorf("open issue status = %s, want pending", v.Status)
	}
	closed := &Issue{Number: 4, ID: 1004, Title: "T", State: "closed"}
	if v := closed.View(); v.Status != task.StatusCompleted {
		t.Errorf("closed issue status = %s, want completed", v.Status)
	}
}
