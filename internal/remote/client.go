// Package remote is the HTTP client for the authoritative task store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tracktrip/internal/models"
)

// DefaultTimeout bounds every request made with a client built by New(url, nil).
const DefaultTimeout = 10 * time.Second

// ErrNotFound is returned when the remote store has no document for an id.
var ErrNotFound = errors.New("not found on remote")

// StatusError reports a non-2xx reply from the remote store.
type StatusError struct {
	Code    int
	Message string
	// StoredRevision is set on 409 replies to a stale task write.
	StoredRevision int64
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404 reply.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Client talks to the remote task service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for baseURL. A nil httpClient uses DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the service root the client was built with.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchAll returns every task document held remotely.
func (c *Client) FetchAll(ctx context.Context) ([]models.Task, error) {
	var out struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}
	return out.Tasks, nil
}

// Upsert merge-writes task under its id. A refusal because the remote holds
// a newer revision is returned as *models.RevisionConflict.
func (c *Client) Upsert(ctx context.Context, task models.Task) error {
	err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(task.ID), task, nil)
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict && se.StoredRevision > 0 {
		err = &models.RevisionConflict{TaskID: task.ID, Stored: se.StoredRevision, Incoming: task.Revision}
	}
	return fmt.Errorf("upsert task %s: %w", task.ID, err)
}

// Ping checks that the service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/healthz", nil, nil)
}

// GetUser looks up a user record, including its push token.
func (c *Client) GetUser(ctx context.Context, id string) (models.User, error) {
	var out struct {
		User models.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, &out); err != nil {
		return models.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return out.User, nil
}

// ListUsers returns every user known to the service.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out.Users, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error          string `json:"error"`
		StoredRevision int64  `json:"storedRevision"`
	}
	se := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Error != "" {
			se.Message = payload.Error
		}
		se.StoredRevision = payload.StoredRevision
	}
	return se
}
