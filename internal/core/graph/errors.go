package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrFollowNotFound is returned when a follow lookup or delete misses
	ErrFollowNotFound = errors.New("follow not found")

	// ErrBlockNotFound is returned when a block lookup or delete misses
	ErrBlockNotFound = errors.New("block not found")
)

// SelfReferenceError is returned for follows whose subject equals the
// follower.
type SelfReferenceError struct {
	DID string
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("%s cannot follow themselves", e.DID)
}
