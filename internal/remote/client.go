// Package remote is the HTTP client for the external dispatch service that
// actually runs lyrics alignment. The service exposes a webhook-style trigger
// endpoint plus run and artifact listings; it never returns a run handle from
// the trigger, so callers must correlate dispatches to runs themselves (see
// the tracker package).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxDispatchBody is the service's ceiling on a dispatch request body.
// Lyrics are truncated before serialization; anything still over the
// ceiling is rejected client-side with ErrPayloadTooLarge.
const maxDispatchBody = 64 * 1024

const defaultHTTPTimeout = 30 * time.Second

// ErrPayloadTooLarge indicates a serialized dispatch body exceeded the
// transport's size ceiling even after lyrics truncation.
var ErrPayloadTooLarge = errors.New("dispatch payload exceeds size ceiling")

// APIError is a non-2xx response from the dispatch service.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dispatch service returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the error is worth retrying on a later poll
// tick: server-side errors and rate limiting, but not client mistakes.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// API is the surface of the dispatch service used by the tracker and engine.
type API interface {
	Dispatch(ctx context.Context, p DispatchPayload) error
	ListRuns(ctx context.Context, since time.Time) ([]Run, error)
	GetRun(ctx context.Context, id int64) (*Run, error)
	ListArtifacts(ctx context.Context, runID int64) ([]Artifact, error)
}

// Compile-time interface satisfaction check.
var _ API = (*Client)(nil)

// Client talks to a GitHub-Actions-shaped dispatch service over HTTPS.
type Client struct {
	base       string
	owner      string
	repo       string
	eventType  string
	token      string
	httpClient *http.Client
}

// NewClient creates a dispatch service client. The token must be validated
// by the caller (config.Load) before construction; the client assumes it is
// present.
func NewClient(base, owner, repo, eventType, token string) *Client {
	return &Client{
		base:       base,
		owner:      owner,
		repo:       repo,
		eventType:  eventType,
		token:      token,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Dispatch triggers the remote pipeline via a repository-dispatch POST. The
// service replies 204 with no body on success and returns no run identifier.
func (c *Client) Dispatch(ctx context.Context, p DispatchPayload) error {
	body, err := json.Marshal(dispatchRequest{
		EventType:     c.eventType,
		ClientPayload: p,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}
	if len(body) > maxDispatchBody {
		return ErrPayloadTooLarge
	}

	url := fmt.Sprintf("%s/repos/%s/%s/dispatches", c.base, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	return nil
}

// ListRuns returns recent runs for the target repository. The list is
// eventually consistent and unordered; a run triggered moments ago may not
// appear yet. since narrows the listing server-side where supported.
func (c *Client) ListRuns(ctx context.Context, since time.Time) ([]Run, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs?event=repository_dispatch&per_page=30", c.base, c.owner, c.repo)
	if !since.IsZero() {
		url += "&created=%3E%3D" + since.UTC().Format(time.RFC3339)
	}

	var out listRunsResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.WorkflowRuns, nil
}

// GetRun returns a single run snapshot.
func (c *Client) GetRun(ctx context.Context, id int64) (*Run, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d", c.base, c.owner, c.repo, id)

	var run Run
	if err := c.getJSON(ctx, url, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListArtifacts returns artifact metadata for a run. A successful run with
// no artifacts yields an empty list, not an error.
func (c *Client) ListArtifacts(ctx context.Context, runID int64) ([]Artifact, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/artifacts", c.base, c.owner, c.repo, runID)

	var out listArtifactsResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}

// readAPIError drains a bounded amount of the error body into an APIError.
func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
}
