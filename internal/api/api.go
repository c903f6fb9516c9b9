package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joescharf/codecli/internal/chat"
	"github.com/joescharf/codecli/internal/models"
	"github.com/joescharf/codecli/internal/store"
	"github.com/joescharf/codecli/internal/workflow"
)

// DefaultMaxBodyBytes caps request bodies. Attachments travel base64 encoded
// inside JSON, so the cap leaves room for a few full-size files.
const DefaultMaxBodyBytes = 4 * chat.DefaultMaxAttachmentBytes

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	chat    *chat.Service
	log     *slog.Logger
	ui      http.Handler
	maxBody int64
}

// NewServer creates a new API server.
func NewServer(s store.Store, svc *chat.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, chat: svc, log: logger, maxBody: DefaultMaxBodyBytes}
}

// WithMaxBodyBytes sets the request body cap. Non-positive values keep the default.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// WithUI serves h for GET requests no API route matches.
func (s *Server) WithUI(h http.Handler) *Server {
	s.ui = h
	return s
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health)

	mux.HandleFunc("POST /api/v1/cli", s.createCLI)
	mux.HandleFunc("GET /api/v1/cli", s.listCLIs)
	mux.HandleFunc("GET /api/v1/cli/{id}", s.getCLI)
	mux.HandleFunc("PUT /api/v1/cli/{id}", s.updateCLI)
	mux.HandleFunc("DELETE /api/v1/cli/{id}", s.deleteCLI)

	mux.HandleFunc("POST /api/v1/chat/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/chat/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/chat/sessions/{id}", s.getSession)
	mux.HandleFunc("PATCH /api/v1/chat/sessions/{id}", s.updateSession)
	mux.HandleFunc("DELETE /api/v1/chat/sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /api/v1/chat/sessions/{id}/messages", s.sendToSession)
	mux.HandleFunc("POST /api/v1/chat/messages", s.sendMessage)

	mux.HandleFunc("GET /api/v1/chat/attachments/{id}", s.getAttachment)

	mux.HandleFunc("POST /api/v1/chat/callback/{session_id}", s.callback)

	if s.ui != nil {
		mux.Handle("GET /", s.ui)
	}

	return corsMiddleware(requestLogger(s.log, mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps chat and store errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case chat.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case chat.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrPendingReply):
		writeError(w, http.StatusConflict, err.Error())
	default:
		loggerFrom(r.Context(), s.log).Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// patchString applies a string value from a JSON patch map to the target if the key is present.
func patchString(patch map[string]any, key string, target *string) {
	if v, ok := patch[key]; ok {
		if str, ok := v.(string); ok {
			*target = strings.TrimSpace(str)
		}
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- CLI profiles ---

type cliRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createCLI(w http.ResponseWriter, r *http.Request) {
	var req cliRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	p := &models.CLIProfile{Name: req.Name, Description: req.Description}
	if err := s.store.CreateCLIProfile(r.Context(), p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listCLIs(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListCLIProfiles(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) getCLI(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetCLIProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateCLI(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetCLIProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var patch map[string]any
	if !s.decodeJSON(w, r, &patch) {
		return
	}
	patchString(patch, "name", &p.Name)
	patchString(patch, "description", &p.Description)
	if p.Name == "" {
		writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	if err := s.store.UpdateCLIProfile(r.Context(), p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteCLI(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCLIProfile(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sessions ---

type sessionRequest struct {
	Title string `json:"title"`
	CLIID string `json:"cli_id"`
	Path  string `json:"path"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.chat.CreateSession(r.Context(), chat.CreateSessionInput{
		Title: req.Title,
		CLIID: req.CLIID,
		Path:  req.Path,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, &models.SessionWithMessages{Session: *sess, Messages: msgs})
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var patch map[string]any
	if !s.decodeJSON(w, r, &patch) {
		return
	}
	patchString(patch, "title", &sess.Title)
	patchString(patch, "path", &sess.Path)
	if sess.Path == "" {
		writeError(w, http.StatusBadRequest, "path must not be empty")
		return
	}

	if err := s.store.UpdateSession(r.Context(), sess); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

// sendRequest is the body of both send routes. SessionID, CLIID and Path
// only apply to POST /api/v1/chat/messages.
type sendRequest struct {
	SessionID   string              `json:"session_id"`
	CLIID       string              `json:"cli_id"`
	Path        string              `json:"path"`
	Content     string              `json:"content"`
	Attachments []attachmentRequest `json:"attachments"`
}

// attachmentRequest carries a base64 payload, decoded by encoding/json into Data.
type attachmentRequest struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func (req *sendRequest) input() chat.SendInput {
	in := chat.SendInput{
		SessionID: req.SessionID,
		CLIID:     req.CLIID,
		Path:      req.Path,
		Content:   req.Content,
	}
	for _, a := range req.Attachments {
		in.Attachments = append(in.Attachments, &models.Attachment{
			FileName: a.FileName,
			MimeType: a.MimeType,
			Data:     a.Data,
		})
	}
	return in
}

func (s *Server) sendToSession(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	in := req.input()
	in.SessionID = r.PathValue("id")
	s.send(w, r, in)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.send(w, r, req.input())
}

func (s *Server) send(w http.ResponseWriter, r *http.Request, in chat.SendInput) {
	res, err := s.chat.Send(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	// Responses carry attachment metadata only.
	for _, a := range res.UserMessage.Attachments {
		a.Data = nil
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAttachment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(a.FileName, `"`, "")+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

// --- Callback ---

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	var cb workflow.Callback
	if !s.decodeJSON(w, r, &cb) {
		return
	}
	if cb.MessageID == "" {
		cb.MessageID = r.URL.Query().Get("message_id")
	}

	outcome, err := s.chat.HandleCallback(r.Context(), r.PathValue("session_id"), &cb)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
