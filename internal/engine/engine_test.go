package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/codecli/internal/workflow"
)

type callbackSink struct {
	mu  sync.Mutex
	got []workflow.Callback
}

func (s *callbackSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var cb workflow.Callback
	_ = json.NewDecoder(r.Body).Decode(&cb)
	s.mu.Lock()
	s.got = append(s.got, cb)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *callbackSink) callbacks() []workflow.Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]workflow.Callback(nil), s.got...)
}

type failingResponder struct{}

func (failingResponder) Respond(context.Context, *workflow.Invocation) (string, error) {
	return "", errors.New("model overloaded")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func postInvocation(t *testing.T, h http.Handler, inv *workflow.Invocation) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(inv)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhook_AcceptsAndCallsBack(t *testing.T) {
	sink := &callbackSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(EchoResponder{}, WithLogger(quietLogger()))
	defer e.Close()

	w := postInvocation(t, e.Handler(), &workflow.Invocation{
		CLI:         "claude",
		SessionID:   "s1",
		MessageID:   "m1",
		Prompt:      "Hello",
		Path:        "/srv",
		CallbackURL: srv.URL + "/api/v1/chat/callback/s1?message_id=m1",
		Attachments: []workflow.Attachment{{FileName: "a.txt", Data: []byte("x")}},
	})
	assert.Equal(t, http.StatusAccepted, w.Code)

	e.Wait()
	got := sink.callbacks()
	require.Len(t, got, 1, "exactly one callback per invocation")
	assert.Equal(t, "s1", got[0].SessionID)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, "[claude @ /srv] Hello (attachments: a.txt)", got[0].Output)
	assert.Equal(t, "local-s1", got[0].ExternalSessionID)
	assert.Empty(t, got[0].Error)
}

func TestWebhook_ResponderErrorBecomesCallbackError(t *testing.T) {
	sink := &callbackSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(failingResponder{}, WithLogger(quietLogger()))
	defer e.Close()

	w := postInvocation(t, e.Handler(), &workflow.Invocation{SessionID: "s1", CallbackURL: srv.URL})
	assert.Equal(t, http.StatusAccepted, w.Code)

	e.Wait()
	got := sink.callbacks()
	require.Len(t, got, 1)
	assert.True(t, got[0].Failed())
	assert.Equal(t, "model overloaded", got[0].Error)
}

func TestWebhook_RejectsBadPayload(t *testing.T) {
	e := New(EchoResponder{}, WithLogger(quietLogger()))
	defer e.Close()

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{"))
	w := httptest.NewRecorder()
	e.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postInvocation(t, e.Handler(), &workflow.Invocation{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClose_AbandonsDelayedJobs(t *testing.T) {
	sink := &callbackSink{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	e := New(EchoResponder{}, WithLogger(quietLogger()), WithDelay(1<<40))

	w := postInvocation(t, e.Handler(), &workflow.Invocation{SessionID: "s1", CallbackURL: srv.URL})
	assert.Equal(t, http.StatusAccepted, w.Code)

	e.Close()
	assert.Empty(t, sink.callbacks())
}

func TestBuildPrompt(t *testing.T) {
	t.Run("inlines text attachments", func(t *testing.T) {
		system, user := buildPrompt(&workflow.Invocation{
			CLI:    "claude",
			Path:   "/srv/app",
			Prompt: "review this",
			Attachments: []workflow.Attachment{
				{FileName: "main.go", MimeType: "text/x-go", Data: []byte("package main")},
			},
		})
		assert.Contains(t, system, `"claude"`)
		assert.Contains(t, system, "/srv/app")
		assert.Contains(t, user, "review this")
		assert.Contains(t, user, "Attached file main.go")
		assert.Contains(t, user, "package main")
	})

	t.Run("describes binary attachments", func(t *testing.T) {
		_, user := buildPrompt(&workflow.Invocation{
			Prompt:      "what is this",
			Attachments: []workflow.Attachment{{FileName: "logo.png", MimeType: "image/png", Data: []byte{0x89, 0x50}}},
		})
		assert.Contains(t, user, "logo.png (image/png, 2 bytes, not shown)")
	})
}

func TestAnthropicResponder(t *testing.T) {
	var gotBody map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "Run go test ./..."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	}))
	defer api.Close()

	r := NewAnthropicResponder("test-key", "claude-sonnet-4-5", option.WithBaseURL(api.URL), option.WithMaxRetries(0))
	out, err := r.Respond(context.Background(), &workflow.Invocation{CLI: "claude", Path: "/srv", Prompt: "how do I test?"})
	require.NoError(t, err)
	assert.Equal(t, "Run go test ./...", out)
	assert.Equal(t, "claude-sonnet-4-5", gotBody["model"])
}

func TestAnthropicResponder_APIError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer api.Close()

	r := NewAnthropicResponder("bad", "claude-sonnet-4-5", option.WithBaseURL(api.URL), option.WithMaxRetries(0))
	_, err := r.Respond(context.Background(), &workflow.Invocation{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic API call")
}
