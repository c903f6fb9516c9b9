package models

import "time"

// Attachment is a write-once file attached to a user message.
// Data is only populated when the payload itself is requested; session
// listings carry metadata only.
type Attachment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id,omitempty"`
	FileName  string    `json:"file_name"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Data      []byte    `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
