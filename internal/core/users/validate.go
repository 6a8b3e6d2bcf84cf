package users

import (
	"regexp"
	"strings"
)

// atProto handle validation regex
// Handles must: start/end with alphanumeric, contain only alphanumeric + hyphens, no consecutive hyphens
var handleRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?)*$`)

// NormalizeHandle lowercases and trims a handle for storage and lookup.
func NormalizeHandle(handle string) string {
	return strings.TrimSpace(strings.ToLower(handle))
}

// ValidateHandle checks atProto handle syntax (1-253 chars, alphanumeric
// segments joined by dots, no consecutive hyphens).
func ValidateHandle(handle string) error {
	handle = NormalizeHandle(handle)

	if len(handle) < 1 || len(handle) > 253 {
		return &InvalidHandleError{Handle: handle, Reason: "must be between 1 and 253 characters"}
	}
	if !handleRegex.MatchString(handle) {
		return &InvalidHandleError{Handle: handle, Reason: "must contain only alphanumeric characters, hyphens, and dots; must start and end with alphanumeric"}
	}
	if strings.Contains(handle, "--") {
		return &InvalidHandleError{Handle: handle, Reason: "consecutive hyphens not allowed"}
	}
	return nil
}

// ValidateDID checks the did:<method>:<identifier> shape without
// resolving anything.
func ValidateDID(did string) error {
	if strings.TrimSpace(did) == "" {
		return &InvalidDIDError{DID: did, Reason: "empty"}
	}
	if !strings.HasPrefix(did, "did:") {
		return &InvalidDIDError{DID: did}
	}
	parts := strings.SplitN(did, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return &InvalidDIDError{DID: did, Reason: "expected did:<method>:<identifier>"}
	}
	return nil
}

// InvalidHandleError is returned when a handle fails syntax validation
type InvalidHandleError struct {
	Handle string
	Reason string
}

func (e *InvalidHandleError) Error() string {
	return "invalid handle \"" + e.Handle + "\": " + e.Reason
}
