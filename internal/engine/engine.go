// Package engine is a local stand-in for the external workflow engine. It
// accepts invocations on a webhook, answers them in the background and posts
// the result to the invocation's callback address.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joescharf/codecli/internal/workflow"
)

// Engine serves the webhook and runs responders.
type Engine struct {
	responder Responder
	delay     time.Duration
	hc        *http.Client
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithDelay waits before answering, to exercise client polling.
func WithDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// WithHTTPClient sets the client used for callbacks.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) { e.hc = hc }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine that answers with r.
func New(r Responder, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		responder: r,
		hc:        &http.Client{Timeout: 30 * time.Second},
		log:       slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Handler returns the engine's HTTP routes.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", e.webhook)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (e *Engine) webhook(w http.ResponseWriter, r *http.Request) {
	var inv workflow.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	if inv.SessionID == "" || inv.CallbackURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and callback_url are required"})
		return
	}

	e.jobs.Add(1)
	go func() {
		defer e.jobs.Done()
		e.run(&inv)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (e *Engine) run(inv *workflow.Invocation) {
	log := e.log.With("session_id", inv.SessionID, "message_id", inv.MessageID, "cli", inv.CLI)

	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-e.ctx.Done():
			return
		}
	}

	cb := &workflow.Callback{
		SessionID:         inv.SessionID,
		MessageID:         inv.MessageID,
		ExternalSessionID: "local-" + inv.SessionID,
	}
	out, err := e.responder.Respond(e.ctx, inv)
	if err != nil {
		log.Warn("responder failed", "error", err)
		cb.Error = err.Error()
	} else {
		cb.Output = out
	}

	if err := workflow.Notify(e.ctx, e.hc, inv.CallbackURL, cb); err != nil {
		log.Error("callback failed", "url", inv.CallbackURL, "error", err)
		return
	}
	log.Info("callback delivered", "failed", cb.Failed())
}

// Close abandons queued jobs and waits for running ones to return.
func (e *Engine) Close() {
	e.cancel()
	e.jobs.Wait()
}

// Wait blocks until all accepted jobs have delivered their callbacks.
func (e *Engine) Wait() {
	e.jobs.Wait()
}
