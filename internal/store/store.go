package store

import (
	"context"
	"errors"

	"github.com/joescharf/codecli/internal/models"
)

var (
	// ErrNotFound is wrapped by every lookup that matches no row.
	ErrNotFound = errors.New("not found")

	// ErrPendingExists is returned by AppendExchange when the session already
	// has an unresolved ai placeholder.
	ErrPendingExists = errors.New("session already has a pending reply")
)

// Exchange is one user turn plus its pending ai placeholder, written atomically.
// When CreateSession is set the session row is inserted in the same transaction.
type Exchange struct {
	Session       *models.Session
	CreateSession bool
	User          *models.Message
	Pending       *models.Message
}

// Store defines the persistence interface for codecli.
type Store interface {
	// CLI profiles
	CreateCLIProfile(ctx context.Context, p *models.CLIProfile) error
	GetCLIProfile(ctx context.Context, id string) (*models.CLIProfile, error)
	ListCLIProfiles(ctx context.Context) ([]*models.CLIProfile, error)
	UpdateCLIProfile(ctx context.Context, p *models.CLIProfile) error
	DeleteCLIProfile(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	UpdateSession(ctx context.Context, s *models.Session) error
	SetExternalSessionID(ctx context.Context, sessionID, externalID string) error
	DeleteSession(ctx context.Context, id string) error

	// Messages
	AppendMessage(ctx context.Context, m *models.Message) error
	AppendExchange(ctx context.Context, ex *Exchange) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error)
	LatestPendingMessage(ctx context.Context, sessionID string) (*models.Message, error)
	ResolveMessage(ctx context.Context, sessionID, messageID, content string) (bool, error)

	// Attachments
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
