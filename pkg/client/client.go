package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrConflict is returned when another writer appended to the project
	// first. Retrying the call is safe.
	ErrConflict = errors.New("ledger: concurrent write conflict")

	// ErrNotFound is returned when the server does not know the project.
	ErrNotFound = errors.New("ledger: not found")

	// ErrUnauthorized is returned when the actor token is missing or invalid.
	ErrUnauthorized = errors.New("ledger: unauthorized")
)

// APIError is a non-2xx response. It wraps one of the sentinel errors when
// the status maps to one.
type APIError struct {
	Status  int
	Message string
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// Event is a ledger event as returned by the server.
type Event struct {
	ID           string          `json:"id"`
	ProjectID    string          `json:"project_id"`
	Seq          int64           `json:"seq"`
	EventType    string          `json:"event_type"`
	Data         json.RawMessage `json:"data"`
	Timestamp    string          `json:"timestamp"`
	CreatedBy    string          `json:"created_by"`
	PreviousHash string          `json:"previous_hash"`
	CurrentHash  string          `json:"current_hash"`
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// VerifyResult is the outcome of an integrity check.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	BrokenAt  string `json:"broken_at,omitempty"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Checked   int    `json:"checked"`
	Tip       string `json:"tip,omitempty"`
}

// Client talks to a ledgerd server.
type Client struct {
	base            string
	httpClient      *http.Client
	token           string
	actor           string
	conflictRetries int
	conflictBackoff time.Duration
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default HTTP client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithToken authenticates writes with a Bearer actor token.
func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithActor sends the actor id in the X-Actor-ID header. Only servers running
// behind an authenticating gateway accept it.
func WithActor(actorID string) Option {
	return func(c *Client) error {
		c.actor = actorID
		return nil
	}
}

// WithConflictRetries makes CreateEvent retry up to n more times on
// ErrConflict, waiting backoff (or the server's Retry-After) between tries.
func WithConflictRetries(n int, backoff time.Duration) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("conflict retries must be >= 0, got %d", n)
		}
		c.conflictRetries = n
		c.conflictBackoff = backoff
		return nil
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// CreateEvent appends an event to the project's chain.
func (c *Client) CreateEvent(ctx context.Context, projectID, eventType string, data any) (*Event, error) {
	payload, err := json.Marshal(map[string]any{"event_type": eventType, "data": data})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	for attempt := 0; ; attempt++ {
		var ev Event
		wait, err := c.call(ctx, http.MethodPost, c.projectPath(projectID, "events"), payload, &ev)
		if err == nil {
			return &ev, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= c.conflictRetries {
			return nil, err
		}
		if wait == 0 {
			wait = c.conflictBackoff
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Timeline returns the project's events oldest first.
func (c *Client) Timeline(ctx context.Context, projectID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	if _, err := c.call(ctx, http.MethodGet, c.projectPath(projectID, "timeline"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Verify asks the server to check the project's chain.
func (c *Client) Verify(ctx context.Context, projectID string) (*VerifyResult, error) {
	var res VerifyResult
	if _, err := c.call(ctx, http.MethodGet, c.projectPath(projectID, "verify"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) projectPath(projectID, leaf string) string {
	return "/api/v1/projects/" + url.PathEscape(projectID) + "/" + leaf
}

// call performs one request. On a 409 it also returns the server's Retry-After.
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) (time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor-ID", c.actor)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
		var wait time.Duration
		switch resp.StatusCode {
		case http.StatusConflict:
			apiErr.kind = ErrConflict
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		case http.StatusNotFound:
			apiErr.kind = ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			apiErr.kind = ErrUnauthorized
		}
		return wait, apiErr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return 0, fmt.Errorf("decode response: %w", err)
		}
	}
	return 0, nil
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
