package client

import (
	"sync"
	"time"

	"github.com/joescharf/codecli/internal/models"
)

// Entry is one line of the rendered conversation. Provisional entries exist
// only on the client until the next authoritative fetch replaces them.
type Entry struct {
	Message     *models.Message
	Provisional bool
}

// Conversation is the client's view of one session.
type Conversation struct {
	mu        sync.Mutex
	sessionID string
	entries   []Entry
}

// SessionID returns the session the view belongs to, empty before the first send.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// AddProvisional shows a sent turn immediately: the user text followed by a
// pending ai placeholder.
func (c *Conversation) AddProvisional(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	c.entries = append(c.entries,
		Entry{Message: &models.Message{SessionID: c.sessionID, Role: models.RoleUser, Content: content, CreatedAt: now}, Provisional: true},
		Entry{Message: &models.Message{SessionID: c.sessionID, Role: models.RoleAI, Content: models.PendingContent, CreatedAt: now}, Provisional: true},
	)
}

// DiscardProvisional drops entries the server never confirmed, after a failed send.
func (c *Conversation) DiscardProvisional() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !e.Provisional {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// Replace swaps the whole view for an authoritative fetch. Provisional
// entries are dropped, never merged.
func (c *Conversation) Replace(detail *models.SessionWithMessages) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	if detail == nil {
		c.sessionID = ""
		return
	}
	c.sessionID = detail.ID
	for _, m := range detail.Messages {
		c.entries = append(c.entries, Entry{Message: m})
	}
}

// Entries returns a snapshot of the view in display order.
func (c *Conversation) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Pending reports whether the view shows a placeholder awaiting an answer.
func (c *Conversation) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Message.IsPending() {
			return true
		}
	}
	return false
}
