// Package client is the HTTP client for the source registry API.
//
// Each operation maps one user intent to one backend round trip and a
// typed outcome. The client never retries on its own; retry policy
// belongs to the polling coordinator layered on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codelens/sourcereg/pkg/models"
)

const (
	// DefaultTimeout is the default per-request timeout
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read (4MB)
	maxResponseSize = 4 * 1024 * 1024

	userAgent = "sourcereg-client/1.0"
)

// TokenSource supplies the bearer credential attached to every
// request. How the credential is obtained is the auth layer's concern;
// the client treats every response uniformly regardless.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields the given token
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// CreateSpec describes a new source registration
type CreateSpec struct {
	Origin models.Origin `json:"origin"`
}

// UpdatePatch describes a partial source update
type UpdatePatch struct {
	Origin *models.Origin `json:"origin,omitempty"`
}

// shareRequest is the wire body for access updates
type shareRequest struct {
	Access  models.Access `json:"access"`
	UserIDs []string      `json:"user_ids"`
}

// listResponse is the wire body for source listings
type listResponse struct {
	Sources []*models.Source `json:"sources"`
}

// Client talks to the source registry backend
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource TokenSource
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithTokenSource sets the credential supplier for outgoing requests
func WithTokenSource(ts TokenSource) Option {
	return func(cl *Client) {
		cl.tokenSource = ts
	}
}

// New creates a client for the registry at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List fetches the full source snapshot
func (c *Client) List(ctx context.Context) ([]*models.Source, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/sources", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// Create registers a new source
func (c *Client) Create(ctx context.Context, spec CreateSpec) (*models.Source, error) {
	var src models.Source
	if err := c.do(ctx, http.MethodPost, "/api/v1/sources", spec, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Update applies a partial update to a source
func (c *Client) Update(ctx context.Context, id string, patch UpdatePatch) (*models.Source, error) {
	var src models.Source
	if err := c.do(ctx, http.MethodPatch, "/api/v1/sources/"+id, patch, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// Delete removes a source entirely. The backend reports a conflict if
// the source's sync is currently running; the client surfaces that
// as-is rather than inferring a policy.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sources/"+id, nil, nil)
}

// RequestSync asks the backend to enqueue a sync for the source.
// Enqueueing is idempotent on the backend; only an acknowledgement
// comes back, never job state.
func (c *Client) RequestSync(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sources/"+id+"/sync", nil, nil)
}

// CancelQueued removes a queued-but-not-started sync request. A
// conflict or not-found outcome means cancellation lost the race with
// the worker and should not be treated as a hard error by callers.
func (c *Client) CancelQueued(ctx context.Context, sourceID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/index/queue/"+sourceID, nil, nil)
}

// QueueSnapshot fetches the current queue state
func (c *Client) QueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	var snap models.QueueSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/index/queue", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// UpdateAccess sets the source's access tier. userIDs is parsed from
// free-form delimited text: entries are trimmed and deduplicated, and
// an all-whitespace input is a valid empty share list.
func (c *Client) UpdateAccess(ctx context.Context, id string, access models.Access, userIDs string) (*models.Source, error) {
	body := shareRequest{
		Access:  access,
		UserIDs: models.ParseUserIDs(userIDs),
	}
	var src models.Source
	if err := c.do(ctx, http.MethodPost, "/api/v1/sources/"+id+"/share", body, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// do performs one round trip, translating transport failures into
// NetworkError and failure statuses into HTTPError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokenSource != nil {
		token, err := c.tokenSource(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain credential: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, Body: errorMessage(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the backend's error envelope, falling back to
// the raw body.
func errorMessage(data []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return string(data)
}
