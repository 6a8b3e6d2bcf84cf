package posts

import (
	"errors"
	"fmt"
)

var (
	// ErrPostNotFound is returned when a post lookup finds no matching record
	ErrPostNotFound = errors.New("post not found")

	// ErrGateNotFound is returned when no threadgate exists for a post
	ErrGateNotFound = errors.New("threadgate not found")
)

// InvalidReplyError is returned when reply references fail invariant
// checks (self-referencing parent/root, parent without root).
type InvalidReplyError struct {
	URI    string
	Reason string
}

func (e *InvalidReplyError) Error() string {
	return fmt.Sprintf("invalid reply %s: %s", e.URI, e.Reason)
}
