package chat

import (
	"errors"
	"fmt"

	"github.com/joescharf/codecli/internal/store"
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ErrPendingReply is returned by Send while the session still waits on the workflow engine.
var ErrPendingReply = errors.New("a reply is still pending for this session")

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err refers to an unknown session, cli profile or message.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
