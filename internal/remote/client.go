// Package remote implements the issue-tracker HTTP client used by the sync
// engine. The tracker exposes a GitHub-style REST surface: labeled issues
// with pagination, plus create and update operations.
//
// Every failure path surfaces the HTTP status code through APIError so the
// orchestrator can classify transient versus terminal errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Issue is the remote unit mirrored by a local task.
type Issue struct {
	ID        int64     `json:"id"`     // tracker-internal id
	Number    int64     `json:"number"` // user-facing issue number
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"` // open or closed
	Labels    []Label   `json:"labels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// IssueRequest carries the mutable fields of a create or update call.
// Nil fields are omitted and left unchanged by the tracker.
type IssueRequest struct {
	Title  *string  `json:"title,omitempty"`
	Body   *string  `json:"body,omitempty"`
	State  *string  `json:"state,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// APIError reports a non-2xx tracker response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote API error: status %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the error is expected to clear on retry:
// rate limiting, permission throttling, and server-side failures.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTemporary reports whether err carries a retryable tracker status.
func IsTemporary(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Temporary()
}

// Client is the tracker operations surface the orchestrator needs.
type Client interface {
	// ListIssues returns one page of issues carrying the given label,
	// in any state. Pages are 1-based; a short page ends pagination.
	ListIssues(ctx context.Context, label string, page, perPage int) ([]*Issue, error)
	GetIssue(ctx context.Context, number int64) (*Issue, error)
	CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error)
	UpdateIssue(ctx context.Context, number int64, req IssueRequest) (*Issue, error)
}

// HTTPClient talks to a real tracker endpoint. Requests are paced through
// a token-bucket limiter so bursts stay under the tracker's secondary
// limits; the orchestrator's hourly budget is enforced separately.
type HTTPClient struct {
	baseURL string
	repo    string // owner/name
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// Options configures an HTTPClient.
type Options struct {
	// BaseURL of the tracker API, e.g. https://api.github.com.
	BaseURL string
	// Repo in owner/name form.
	Repo string
	// Token for bearer authentication; empty sends unauthenticated.
	Token string
	// RequestsPerSecond paces outbound calls (default 2, burst 5).
	RequestsPerSecond float64
	// Timeout per request (default 30s).
	Timeout time.Duration
	// Logger for request diagnostics (default stderr).
	Logger *log.Logger
}

// NewHTTPClient builds a client against a GitHub-style API.
func NewHTTPClient(opts Options) *HTTPClient {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &HTTPClient{
		baseURL: opts.BaseURL,
		repo:    opts.Repo,
		token:   opts.Token,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 5),
		logger:  opts.Logger,
	}
}

// ListIssues implements Client.ListIssues.
func (c *HTTPClient) ListIssues(ctx context.Context, label string, page, perPage int) ([]*Issue, error) {
	q := url.Values{}
	q.Set("labels", label)
	q.Set("state", "all")
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	var issues []*Issue
	err := c.do(ctx, http.MethodGet, "/repos/"+c.repo+"/issues?"+q.Encode(), nil, &issues)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// GetIssue implements Client.GetIssue.
func (c *HTTPClient) GetIssue(ctx context.Context, number int64) (*Issue, error) {
	var issue Issue
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/issues/%d", c.repo, number), nil, &issue)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", number, err)
	}
	return &issue, nil
}

// CreateIssue implements Client.CreateIssue.
func (c *HTTPClient) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	var issue Issue
	err := c.do(ctx, http.MethodPost, "/repos/"+c.repo+"/issues", req, &issue)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return &issue, nil
}

// UpdateIssue implements Client.UpdateIssue.
func (c *HTTPClient) UpdateIssue(ctx context.Context, number int64, req IssueRequest) (*Issue, error) {
	var issue Issue
	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/repos/%s/issues/%d", c.repo, number), req, &issue)
	if err != nil {
		return nil, fmt.Errorf("failed to update issue %d: %w", number, err)
	}
	return &issue, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Printf("%s %s -> %d", method, path, resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
