package identity

import "context"

// Resolver resolves atproto identities: DIDs to documents, endpoints
// and handles, and handles back to DIDs.
//
// Every method is total. Failures come back as nil or "" with an
// internal failure counter bumped, never as an error or panic, so
// callers on the firehose hot path can treat resolution as best-effort
// without wrapping every lookup in error plumbing.
type Resolver interface {
	// ResolveDID returns the DID document, or nil.
	ResolveDID(ctx context.Context, did string) *DIDDocument

	// ResolveDIDToPDS returns the DID's personal data server endpoint, or "".
	ResolveDIDToPDS(ctx context.Context, did string) string

	// ResolveDIDToFeedGenerator returns the DID's feed generator endpoint, or "".
	ResolveDIDToFeedGenerator(ctx context.Context, did string) string

	// ResolveDIDToHandle returns the handle the DID document declares, or "".
	ResolveDIDToHandle(ctx context.Context, did string) string

	// ResolveHandleToDID returns the DID a handle points at, or "".
	ResolveHandleToDID(ctx context.Context, handle string) string

	// VerifyHandle reports whether the DID document claims the handle.
	VerifyHandle(ctx context.Context, did, handle string) bool

	// Purge evicts cached state for a DID.
	Purge(did string)

	// Stats returns cache hit/miss counters.
	Stats() CacheStats
}
