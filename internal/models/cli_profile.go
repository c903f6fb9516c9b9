package models

import "time"

// DefaultCLIName is sent to the workflow engine when a session has no CLI profile.
const DefaultCLIName = "default"

// CLIProfile is a named command-line tool assistant a session can target.
type CLIProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
