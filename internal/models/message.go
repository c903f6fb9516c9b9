package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAI
}

// PendingContent is the reserved content of an ai message whose workflow call has not completed.
// It is written only when the placeholder is created and replaced exactly once.
const PendingContent = "Thinking..."

// MessageState is the derived lifecycle state of a message.
type MessageState string

const (
	MessageStatePending  MessageState = "pending"
	MessageStateResolved MessageState = "resolved"
)

// Message is a single turn in a session.
type Message struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"created_at"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// IsPending reports whether m is an unresolved ai placeholder.
func (m *Message) IsPending() bool {
	return m != nil && m.Role == RoleAI && m.Content == PendingContent
}

// State returns the lifecycle state of m.
func (m *Message) State() MessageState {
	if m.IsPending() {
		return MessageStatePending
	}
	return MessageStateResolved
}

// HasPending reports whether msgs contains a pending ai placeholder.
func HasPending(msgs []*Message) bool {
	for _, m := range msgs {
		if m.IsPending() {
			return true
		}
	}
	return false
}

// LastPending returns the most recent pending ai message, or nil.
func LastPending(msgs []*Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsPending() {
			return msgs[i]
		}
	}
	return nil
}
