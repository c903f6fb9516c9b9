package models

import "time"

// Session is one conversation thread, scoped to a CLI profile and working directory.
type Session struct {
	ID                string    `json:"id"`
	Title             string    `json:"title,omitempty"`
	CLIID             string    `json:"cli_id,omitempty"`
	Path              string    `json:"path"`
	ExternalSessionID string    `json:"external_session_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SessionWithMessages is a session together with its ordered message history.
type SessionWithMessages struct {
	Session
	Messages []*Message `json:"messages"`
}

// HasPending reports whether any ai message in the history is still waiting on the workflow engine.
func (s *SessionWithMessages) HasPending() bool {
	if s == nil {
		return false
	}
	return HasPending(s.Messages)
}
