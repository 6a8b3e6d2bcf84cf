package pds

import (
	"errors"
	"fmt"

	"github.com/bluesky-social/indigo/xrpc"
)

// Typed errors for PDS operations.
// These allow callers to use errors.Is() for reliable error detection
// instead of fragile string matching.
var (
	// ErrBadRequest indicates the request was malformed or invalid (HTTP 400).
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized indicates the request failed due to invalid or expired credentials (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request was rejected due to insufficient permissions (HTTP 403).
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested resource does not exist (HTTP 404).
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the request lost an optimistic-locking race (HTTP 409).
	ErrConflict = errors.New("conflict")

	// ErrRateLimited indicates the host is throttling us (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates an upstream 5xx.
	ErrUnavailable = errors.New("upstream unavailable")
)

// APIError carries the upstream XRPC error name alongside the mapped
// sentinel. errors.Is works against the sentinels above, while callers
// that need the exact upstream vocabulary (RecordNotFound,
// ExpiredToken, ...) read Name.
type APIError struct {
	Operation  string
	StatusCode int
	Name       string // upstream "error" field, e.g. "RecordNotFound"
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s: %s", e.Operation, e.Name, e.Message)
	}
	return fmt.Sprintf("%s: upstream status %d", e.Operation, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.kind }

// wrapXRPCError inspects an error from the indigo XRPC client and wraps
// it with our typed errors. Non-XRPC errors (dial failures, timeouts)
// pass through with operation context only.
func wrapXRPCError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return fmt.Errorf("%s failed: %w", operation, err)
	}

	apiErr := &APIError{Operation: operation, StatusCode: xe.StatusCode}
	if wrapped, ok := xe.Wrapped.(*xrpc.XRPCError); ok {
		apiErr.Name = wrapped.ErrStr
		apiErr.Message = wrapped.Message
	} else if xe.Wrapped != nil {
		apiErr.Message = xe.Wrapped.Error()
	}

	switch {
	case xe.StatusCode == 400:
		apiErr.kind = ErrBadRequest
	case xe.StatusCode == 401:
		apiErr.kind = ErrUnauthorized
	case xe.StatusCode == 403:
		apiErr.kind = ErrForbidden
	case xe.StatusCode == 404:
		apiErr.kind = ErrNotFound
	case xe.StatusCode == 409:
		apiErr.kind = ErrConflict
	case xe.StatusCode == 429:
		apiErr.kind = ErrRateLimited
	case xe.StatusCode >= 500:
		apiErr.kind = ErrUnavailable
	}
	return apiErr
}

// IsRecordNotFound reports whether the error is the PDS saying the
// record does not exist. PDSes answer a getRecord for a deleted record
// with either 400 or 404 carrying the RecordNotFound error name; both
// mean the record is gone for good, not that the fetch should retry.
func IsRecordNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != 400 && apiErr.StatusCode != 404 {
		return false
	}
	return apiErr.Name == "RecordNotFound"
}

// IsAuthError returns true if the error is an authentication/authorization error.
// This is a convenience function for checking if re-authentication might help.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
