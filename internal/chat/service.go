// Package chat implements the send/callback reconciliation protocol: a user turn
// is persisted together with a pending ai placeholder, forwarded to the workflow
// engine out of band, and resolved in place when the engine calls back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/joescharf/codecli/internal/models"
	"github.com/joescharf/codecli/internal/store"
	"github.com/joescharf/codecli/internal/workflow"
)

// DefaultMaxAttachmentBytes bounds a single attachment payload.
const DefaultMaxAttachmentBytes int64 = 10 << 20

// Notices written into the pending placeholder when the engine cannot answer.
const (
	NotConfiguredNotice = "Workflow engine not configured. This is a mock response."
	EmptyOutputNotice   = "No response from AI"
)

// Dispatcher sends invocations to the workflow engine. *workflow.Client implements it.
type Dispatcher interface {
	Configured() bool
	Invoke(ctx context.Context, inv *workflow.Invocation) error
}

// Config holds the settings the service needs from the application config.
type Config struct {
	// PublicURL is the externally reachable base URL of the API server,
	// used to build callback addresses.
	PublicURL          string
	DefaultPath        string
	MaxAttachmentBytes int64
}

// Service stores user turns, dispatches them to the workflow engine and
// applies its callbacks.
// It holds no conversation state; everything goes through the store.
type Service struct {
	store  store.Store
	engine Dispatcher
	cfg    Config
	log    *slog.Logger

	inflight sync.WaitGroup
}

// NewService creates a chat service. engine may be nil, in which case every
// send is answered with NotConfiguredNotice.
func NewService(s store.Store, engine Dispatcher, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		engine: engine,
		cfg:    cfg,
		log:    logger,
	}
}

// CreateSessionInput describes an explicitly created session.
type CreateSessionInput struct {
	Title string
	CLIID string
	Path  string
}

// CreateSession creates an empty session bound to a cli profile and working directory.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	if in.CLIID != "" {
		if _, err := s.store.GetCLIProfile(ctx, in.CLIID); err != nil {
			return nil, err
		}
	}
	sess := &models.Session{
		Title: strings.TrimSpace(in.Title),
		CLIID: in.CLIID,
		Path:  s.pathOrDefault(in.Path),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) pathOrDefault(p string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return s.cfg.DefaultPath
}

// SendInput is one user turn. An empty SessionID defers session creation to
// this send; CLIID and Path are only used in that case.
type SendInput struct {
	SessionID   string
	CLIID       string
	Path        string
	Content     string
	Attachments []*models.Attachment
}

// SendResult carries what Send persisted.
type SendResult struct {
	Session        *models.Session `json:"session"`
	SessionCreated bool            `json:"session_created"`
	UserMessage    *models.Message `json:"user_message"`
	PendingMessage *models.Message `json:"pending_message"`
}

func (s *Service) validate(in SendInput) error {
	if strings.TrimSpace(in.Content) == "" && len(in.Attachments) == 0 {
		return &ValidationError{Field: "content", Reason: "message text or at least one attachment is required"}
	}
	for i, a := range in.Attachments {
		if a == nil || strings.TrimSpace(a.FileName) == "" {
			return &ValidationError{Field: fmt.Sprintf("attachments[%d].file_name", i), Reason: "is required"}
		}
		if int64(len(a.Data)) > s.cfg.MaxAttachmentBytes {
			return &ValidationError{
				Field:  fmt.Sprintf("attachments[%d]", i),
				Reason: fmt.Sprintf("%s exceeds %d bytes", a.FileName, s.cfg.MaxAttachmentBytes),
			}
		}
	}
	return nil
}

// Send persists the user turn and its pending placeholder atomically, then
// dispatches the invocation in the background. It returns as soon as the rows
// are written; the engine's answer arrives through HandleCallback, and a failed
// dispatch resolves the placeholder with an error notice.
func (s *Service) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	ex := &store.Exchange{
		User:    &models.Message{Content: in.Content, Attachments: in.Attachments},
		Pending: &models.Message{},
	}

	var cli *models.CLIProfile
	if in.SessionID == "" {
		if in.CLIID != "" {
			p, err := s.store.GetCLIProfile(ctx, in.CLIID)
			if err != nil {
				return nil, err
			}
			cli = p
		}
		ex.CreateSession = true
		ex.Session = &models.Session{
			Title: deriveTitle(in.Content),
			CLIID: in.CLIID,
			Path:  s.pathOrDefault(in.Path),
		}
	} else {
		sess, err := s.store.GetSession(ctx, in.SessionID)
		if err != nil {
			return nil, err
		}
		ex.Session = sess
		if sess.CLIID != "" {
			// A profile deleted after the lookup falls back to the default marker.
			cli, _ = s.store.GetCLIProfile(ctx, sess.CLIID)
		}
	}

	if err := s.store.AppendExchange(ctx, ex); err != nil {
		if errors.Is(err, store.ErrPendingExists) {
			return nil, fmt.Errorf("session %s: %w", ex.Session.ID, ErrPendingReply)
		}
		return nil, err
	}

	log := s.log.With("session_id", ex.Session.ID, "message_id", ex.Pending.ID)
	log.Info("user message stored", "session_created", ex.CreateSession, "attachments", len(in.Attachments))

	inv := s.invocation(ex.Session, cli, ex.User, ex.Pending)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(context.WithoutCancel(ctx), log, inv)
	}()

	return &SendResult{
		Session:        ex.Session,
		SessionCreated: ex.CreateSession,
		UserMessage:    ex.User,
		PendingMessage: ex.Pending,
	}, nil
}

// invocation snapshots the session path and cli profile at send time.
func (s *Service) invocation(sess *models.Session, cli *models.CLIProfile, user, pending *models.Message) *workflow.Invocation {
	cliName := models.DefaultCLIName
	if cli != nil && cli.Name != "" {
		cliName = cli.Name
	}
	inv := &workflow.Invocation{
		CLI:         cliName,
		SessionID:   sess.ID,
		MessageID:   pending.ID,
		Prompt:      user.Content,
		Path:        sess.Path,
		CallbackURL: CallbackURL(s.cfg.PublicURL, sess.ID, pending.ID),
	}
	for _, a := range user.Attachments {
		inv.Attachments = append(inv.Attachments, workflow.Attachment{
			FileName: a.FileName,
			MimeType: a.MimeType,
			Data:     a.Data,
		})
	}
	return inv
}

// dispatch runs detached from the request. Its failure path writes to the
// store because nothing else observes it.
func (s *Service) dispatch(ctx context.Context, log *slog.Logger, inv *workflow.Invocation) {
	if s.engine == nil || !s.engine.Configured() {
		log.Warn("workflow engine not configured, answering with notice")
		s.resolveWithNotice(ctx, log, inv, NotConfiguredNotice)
		return
	}

	if err := s.engine.Invoke(ctx, inv); err != nil {
		log.Error("workflow dispatch failed", "error", err)
		s.resolveWithNotice(ctx, log, inv, fmt.Sprintf("Error communicating with workflow engine: %v", err))
		return
	}
	log.Info("workflow invoked", "cli", inv.CLI, "path", inv.Path)
}

func (s *Service) resolveWithNotice(ctx context.Context, log *slog.Logger, inv *workflow.Invocation, notice string) {
	applied, err := s.store.ResolveMessage(ctx, inv.SessionID, inv.MessageID, notice)
	if err != nil {
		log.Error("failed to resolve pending message", "error", err)
		return
	}
	if !applied {
		// The engine called back before the dispatch error surfaced.
		log.Info("pending message already resolved")
	}
}

// Wait blocks until every background dispatch started by Send has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// CallbackURL builds the address the engine calls back for a pending message.
func CallbackURL(base, sessionID, messageID string) string {
	u := strings.TrimRight(base, "/") + "/api/v1/chat/callback/" + url.PathEscape(sessionID)
	if messageID != "" {
		u += "?message_id=" + url.QueryEscape(messageID)
	}
	return u
}
