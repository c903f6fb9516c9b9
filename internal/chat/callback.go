package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/codecli/internal/models"
	"github.com/joescharf/codecli/internal/store"
	"github.com/joescharf/codecli/internal/workflow"
)

// CallbackOutcome reports what a callback delivery did.
type CallbackOutcome string

const (
	OutcomeResolved CallbackOutcome = "resolved"
	// OutcomeDuplicate means the targeted message was already resolved; the delivery is ignored.
	OutcomeDuplicate CallbackOutcome = "duplicate"
	// OutcomeNoPending means the session has nothing waiting; the delivery is ignored.
	OutcomeNoPending CallbackOutcome = "no_pending"
)

// callbackContent formats the text that replaces the pending sentinel.
func callbackContent(cb *workflow.Callback) string {
	if cb.Failed() {
		return "Workflow error: " + strings.TrimSpace(cb.Error)
	}
	if strings.TrimSpace(cb.Output) == "" || cb.Output == models.PendingContent {
		return EmptyOutputNotice
	}
	return cb.Output
}

// HandleCallback resolves a pending placeholder from a workflow completion
// notice. The session id comes from the callback address. Replays and
// callbacks for sessions with nothing pending are accepted and ignored.
func (s *Service) HandleCallback(ctx context.Context, sessionID string, cb *workflow.Callback) (CallbackOutcome, error) {
	if cb == nil {
		return "", &ValidationError{Reason: "callback body is required"}
	}
	if cb.SessionID != "" && cb.SessionID != sessionID {
		return "", &ValidationError{Field: "session_id", Reason: "does not match the callback address"}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	log := s.log.With("session_id", sessionID)

	var target *models.Message
	if cb.MessageID != "" {
		m, err := s.store.GetMessage(ctx, cb.MessageID)
		if err != nil {
			return "", err
		}
		if m.SessionID != sessionID || m.Role != models.RoleAI {
			return "", fmt.Errorf("ai message %s in session %s: %w", cb.MessageID, sessionID, store.ErrNotFound)
		}
		if !m.IsPending() {
			log.Info("duplicate callback ignored", "message_id", m.ID)
			return OutcomeDuplicate, nil
		}
		target = m
	} else {
		m, err := s.store.LatestPendingMessage(ctx, sessionID)
		if errors.Is(err, store.ErrNotFound) {
			log.Info("callback ignored, no pending reply")
			return OutcomeNoPending, nil
		}
		if err != nil {
			return "", err
		}
		target = m
	}

	applied, err := s.store.ResolveMessage(ctx, sessionID, target.ID, callbackContent(cb))
	if err != nil {
		return "", err
	}
	if !applied {
		log.Info("duplicate callback ignored", "message_id", target.ID)
		return OutcomeDuplicate, nil
	}

	if cb.ExternalSessionID != "" && cb.ExternalSessionID != sess.ExternalSessionID {
		if err := s.store.SetExternalSessionID(ctx, sessionID, cb.ExternalSessionID); err != nil {
			log.Warn("failed to record external session id", "error", err)
		}
	}

	log.Info("pending message resolved", "message_id", target.ID, "failed", cb.Failed())
	return OutcomeResolved, nil
}
