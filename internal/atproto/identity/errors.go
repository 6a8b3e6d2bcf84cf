package identity

import "fmt"

// ErrNotFound is returned when an identity cannot be resolved
type ErrNotFound struct {
	Identifier string
	Reason     string
}

func (e *ErrNotFound) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("identity not found: %s (%s)", e.Identifier, e.Reason)
	}
	return fmt.Sprintf("identity not found: %s", e.Identifier)
}

// ErrInvalidIdentifier is returned for malformed handles or DIDs
type ErrInvalidIdentifier struct {
	Identifier string
	Reason     string
}

func (e *ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid identifier %s: %s", e.Identifier, e.Reason)
}

// ErrResolutionFailed is returned when resolution fails for reasons other than not found
type ErrResolutionFailed struct {
	Identifier string
	Reason     string
}

func (e *ErrResolutionFailed) Error() string {
	return fmt.Sprintf("resolution failed for %s: %s", e.Identifier, e.Reason)
}

// ErrUnsafeEndpoint is returned when a DID document points a service at
// an address the resolver refuses to contact.
type ErrUnsafeEndpoint struct {
	Endpoint string
	Reason   string
}

func (e *ErrUnsafeEndpoint) Error() string {
	return fmt.Sprintf("unsafe service endpoint %s: %s", e.Endpoint, e.Reason)
}
