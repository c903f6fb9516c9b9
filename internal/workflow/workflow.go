// Package workflow holds the wire contract with the external AI workflow engine:
// the invocation sent for every user turn and the completion callback the engine
// posts back when it is done.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Attachment is a file forwarded to the engine with the prompt. Data is
// base64-encoded by encoding/json.
type Attachment struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Invocation is the payload posted to the workflow engine for one user turn.
type Invocation struct {
	CLI         string       `json:"cli"`
	SessionID   string       `json:"session_id"`
	MessageID   string       `json:"message_id"`
	Prompt      string       `json:"message"`
	Path        string       `json:"path"`
	CallbackURL string       `json:"callback_url"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Callback is the completion notice the engine posts to Invocation.CallbackURL.
// MessageID is optional; without it the most recent pending reply is resolved.
type Callback struct {
	SessionID         string `json:"session_id"`
	MessageID         string `json:"message_id,omitempty"`
	Output            string `json:"output"`
	Error             string `json:"error,omitempty"`
	ExternalSessionID string `json:"external_session_id,omitempty"`
}

// Failed reports whether the engine signalled a workflow-side failure.
func (c *Callback) Failed() bool {
	return strings.TrimSpace(c.Error) != ""
}

// DispatchError describes a failed or timed-out call to the workflow engine.
type DispatchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DispatchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("workflow engine returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("workflow engine unreachable: %v", e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Client posts invocations to the workflow engine.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
}

// NewClient creates a workflow client for the given webhook URL.
// A zero timeout means 30 seconds.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:     url,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.url != ""
}

// Invoke posts inv to the engine. Any transport error, timeout or non-2xx
// response is returned as a *DispatchError. The response body is ignored; the
// engine delivers its answer through the callback.
func (c *Client) Invoke(ctx context.Context, inv *Invocation) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return postJSON(ctx, c.http, c.url, inv)
}

// Notify posts a completion callback. Used by engines, including the local one.
func Notify(ctx context.Context, hc *http.Client, url string, cb *Callback) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	return postJSON(ctx, hc, url, cb)
}

func postJSON(ctx context.Context, hc *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return &DispatchError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DispatchError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}
