// Package client talks to the codecli API server and keeps the client-side
// view of a conversation in step with it.
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
	"strings"
	"time"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/models"
)

// DefaultServerURL is used when no server url is configured.
const DefaultServerURL = "http://localhost:8002"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool { return statusIs(err, http.StatusNotFound) }

// IsConflict reports whether err is a 409, returned while a reply is still pending.
func IsConflict(err error) bool { return statusIs(err, http.StatusConflict) }

func statusIs(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// Client is a thin JSON client for the REST API.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// --- CLI profiles ---

// ListCLIs returns all cli profiles, newest first.
func (c *Client) ListCLIs(ctx context.Context) ([]*models.CLIProfile, error) {
	var out []*models.CLIProfile
	return out, c.do(ctx, http.MethodGet, "/api/v1/cli", nil, &out)
}

// GetCLI returns one cli profile.
func (c *Client) GetCLI(ctx context.Context, id string) (*models.CLIProfile, error) {
	var out models.CLIProfile
	if err := c.do(ctx, http.MethodGet, "/api/v1/cli/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCLI registers a cli profile.
func (c *Client) CreateCLI(ctx context.Context, name, description string) (*models.CLIProfile, error) {
	var out models.CLIProfile
	in := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/v1/cli", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCLI renames a profile. An empty description leaves it unchanged.
func (c *Client) UpdateCLI(ctx context.Context, id, name, description string) (*models.CLIProfile, error) {
	in := map[string]string{"name": name}
	if description != "" {
		in["description"] = description
	}
	var out models.CLIProfile
	if err := c.do(ctx, http.MethodPut, "/api/v1/cli/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCLI removes a profile; its sessions fall back to the default cli.
func (c *Client) DeleteCLI(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/cli/"+url.PathEscape(id), nil, nil)
}

// ResolveCLI finds a profile by id or, failing that, by exact name.
func (c *Client) ResolveCLI(ctx context.Context, ref string) (*models.CLIProfile, error) {
	profiles, err := c.ListCLIs(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.ID == ref {
			return p, nil
		}
	}
	for _, p := range profiles {
		if p.Name == ref {
			return p, nil
		}
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Message: "cli profile not found: " + ref}
}

// --- Sessions ---

// SessionPatch holds optional session updates; nil fields are left unchanged.
type SessionPatch struct {
	Title *string `json:"title,omitempty"`
	Path  *string `json:"path,omitempty"`
}

// ListSessions returns all sessions, newest first.
func (c *Client) ListSessions(ctx context.Context) ([]*models.Session, error) {
	var out []*models.Session
	return out, c.do(ctx, http.MethodGet, "/api/v1/chat/sessions", nil, &out)
}

// CreateSession creates an empty session.
func (c *Client) CreateSession(ctx context.Context, title, cliID, path string) (*models.Session, error) {
	in := map[string]string{"title": title, "cli_id": cliID, "path": path}
	var out models.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat/sessions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session with its full, ordered message history.
func (c *Client) GetSession(ctx context.Context, id string) (*models.SessionWithMessages, error) {
	var out models.SessionWithMessages
	if err := c.do(ctx, http.MethodGet, "/api/v1/chat/sessions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateSession applies a patch to a session.
func (c *Client) UpdateSession(ctx context.Context, id string, patch SessionPatch) (*models.Session, error) {
	var out models.Session
	if err := c.do(ctx, http.MethodPatch, "/api/v1/chat/sessions/"+url.PathEscape(id), patch, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession deletes a session and everything in it.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/chat/sessions/"+url.PathEscape(id), nil, nil)
}

// --- Messages ---

// Attachment is a file sent with a message. Data is base64 on the wire.
type Attachment struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// SendRequest is one user turn. An empty SessionID creates the session on the server.
type SendRequest struct {
	SessionID   string       `json:"session_id,omitempty"`
	CLIID       string       `json:"cli_id,omitempty"`
	Path        string       `json:"path,omitempty"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Send posts a user turn. The returned result carries the pending placeholder;
// the answer arrives later and is picked up by polling the session.
func (c *Client) Send(ctx context.Context, req SendRequest) (*chat.SendResult, error) {
	path := "/api/v1/chat/messages"
	if req.SessionID != "" {
		path = "/api/v1/chat/sessions/" + url.PathEscape(req.SessionID) + "/messages"
	}
	var out chat.SendResult
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAttachment downloads an attachment payload and its mime type.
func (c *Client) GetAttachment(ctx context.Context, id string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/chat/attachments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", &APIError{StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
