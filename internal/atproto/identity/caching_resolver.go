package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"Skyview/internal/metrics"
)

// cacheStatsInterval is how many cache lookups pass between stats log lines.
const cacheStatsInterval = 5000

// negativeCacheTTL bounds how long an authoritative not-found answer is
// held. Kept short: a DID that 404s today may be freshly minted, and a
// later identity event purges the entry anyway.
const negativeCacheTTL = 5 * time.Minute

// cachingResolver fronts the base resolver with two in-process LRU
// caches (DID document and DID-to-handle) and a FIFO queue that bounds
// concurrent outbound lookups.
type cachingResolver struct {
	base  *baseResolver
	queue *requestQueue
	guard *endpointGuard

	docCache    *expirable.LRU[string, *DIDDocument]
	handleCache *expirable.LRU[string, string]
	notFound    *expirable.LRU[string, struct{}]

	docHits      atomic.Uint64
	docMisses    atomic.Uint64
	handleHits   atomic.Uint64
	handleMisses atomic.Uint64
	failures     atomic.Uint64
	lookups      atomic.Uint64

	warnCount atomic.Uint64
}

func newCachingResolver(base *baseResolver, queue *requestQueue, guard *endpointGuard, cfg Config) *cachingResolver {
	return &cachingResolver{
		base:        base,
		queue:       queue,
		guard:       guard,
		docCache:    expirable.NewLRU[string, *DIDDocument](cfg.CacheSize, nil, cfg.CacheTTL),
		handleCache: expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),
		notFound:    expirable.NewLRU[string, struct{}](cfg.CacheSize, nil, negativeCacheTTL),
	}
}

// ResolveDID returns the DID document for a did:plc or did:web
// identifier, or nil if it cannot be resolved.
func (r *cachingResolver) ResolveDID(ctx context.Context, did string) *DIDDocument {
	did = strings.TrimSpace(did)
	if did == "" {
		return nil
	}
	if _, err := syntax.ParseDID(did); err != nil {
		r.noteFailure(did, &ErrInvalidIdentifier{Identifier: did, Reason: err.Error()})
		return nil
	}

	if doc, ok := r.docCache.Get(did); ok {
		r.docHits.Add(1)
		metrics.ResolverLookups.WithLabelValues("doc", "hit").Inc()
		r.noteLookup()
		return doc
	}
	if _, ok := r.notFound.Get(did); ok {
		metrics.ResolverLookups.WithLabelValues("doc", "negative").Inc()
		r.noteLookup()
		return nil
	}
	r.docMisses.Add(1)
	metrics.ResolverLookups.WithLabelValues("doc", "miss").Inc()
	r.noteLookup()

	if err := r.queue.Acquire(ctx); err != nil {
		r.noteFailure(did, err)
		return nil
	}
	defer r.queue.Release()

	doc, err := r.base.fetchDIDDocument(ctx, did)
	if err != nil {
		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			r.notFound.Add(did, struct{}{})
		}
		r.noteFailure(did, err)
		return nil
	}

	r.docCache.Add(did, doc)
	if handle := handleFromDocument(doc); handle != "" {
		r.handleCache.Add(did, handle)
	}
	return doc
}

// ResolveDIDToPDS returns the PDS endpoint for a DID, or "" if the DID
// cannot be resolved or its endpoint fails safety checks.
func (r *cachingResolver) ResolveDIDToPDS(ctx context.Context, did string) string {
	doc := r.ResolveDID(ctx, did)
	endpoint := doc.PDSEndpoint()
	if endpoint == "" {
		return ""
	}
	if err := r.guard.CheckURL(endpoint); err != nil {
		r.noteFailure(did, err)
		return ""
	}
	return strings.TrimRight(endpoint, "/")
}

// ResolveDIDToFeedGenerator returns the feed generator endpoint for a
// DID, or "" if the DID cannot be resolved or carries no such service.
func (r *cachingResolver) ResolveDIDToFeedGenerator(ctx context.Context, did string) string {
	doc := r.ResolveDID(ctx, did)
	endpoint := doc.FeedGeneratorEndpoint()
	if endpoint == "" {
		return ""
	}
	if err := r.guard.CheckURL(endpoint); err != nil {
		r.noteFailure(did, err)
		return ""
	}
	return strings.TrimRight(endpoint, "/")
}

// ResolveDIDToHandle returns the declared handle for a DID, or "" if
// the DID cannot be resolved or declares no handle alias.
func (r *cachingResolver) ResolveDIDToHandle(ctx context.Context, did string) string {
	did = strings.TrimSpace(did)
	if did == "" {
		return ""
	}

	if handle, ok := r.handleCache.Get(did); ok {
		r.handleHits.Add(1)
		metrics.ResolverLookups.WithLabelValues("handle", "hit").Inc()
		r.noteLookup()
		return handle
	}
	r.handleMisses.Add(1)
	metrics.ResolverLookups.WithLabelValues("handle", "miss").Inc()
	r.noteLookup()

	doc := r.ResolveDID(ctx, did)
	handle := handleFromDocument(doc)
	if handle != "" {
		r.handleCache.Add(did, handle)
	}
	return handle
}

// ResolveHandleToDID returns the DID a handle points at, or "" if the
// handle cannot be resolved.
func (r *cachingResolver) ResolveHandleToDID(ctx context.Context, handle string) string {
	handle = normalizeHandle(handle)
	if handle == "" {
		return ""
	}
	if _, err := syntax.ParseHandle(handle); err != nil {
		r.noteFailure(handle, &ErrInvalidIdentifier{Identifier: handle, Reason: err.Error()})
		return ""
	}

	if err := r.queue.Acquire(ctx); err != nil {
		r.noteFailure(handle, err)
		return ""
	}
	defer r.queue.Release()

	did, err := r.base.resolveHandle(ctx, handle)
	if err != nil {
		r.noteFailure(handle, err)
		return ""
	}
	return did
}

// VerifyHandle reports whether the DID's document actually claims the
// handle. Handle resolution alone is forgeable by whoever controls the
// domain; the DID document is the authority.
func (r *cachingResolver) VerifyHandle(ctx context.Context, did, handle string) bool {
	handle = normalizeHandle(handle)
	if handle == "" {
		return false
	}
	doc := r.ResolveDID(ctx, did)
	if doc == nil {
		return false
	}
	for _, aka := range doc.AlsoKnownAs {
		if strings.EqualFold(strings.TrimPrefix(aka, "at://"), handle) {
			return true
		}
	}
	return false
}

// Purge drops cached state for a DID. Called when an identity event
// reports a handle or document change.
func (r *cachingResolver) Purge(did string) {
	did = strings.TrimSpace(did)
	if did == "" {
		return
	}
	r.docCache.Remove(did)
	r.handleCache.Remove(did)
	r.notFound.Remove(did)
}

// Stats returns a snapshot of cache counters.
func (r *cachingResolver) Stats() CacheStats {
	return CacheStats{
		DocHits:       r.docHits.Load(),
		DocMisses:     r.docMisses.Load(),
		HandleHits:    r.handleHits.Load(),
		HandleMisses:  r.handleMisses.Load(),
		DocEntries:    r.docCache.Len(),
		HandleEntries: r.handleCache.Len(),
		Failures:      r.failures.Load(),
	}
}

func (r *cachingResolver) noteLookup() {
	if r.lookups.Add(1)%cacheStatsInterval != 0 {
		return
	}
	stats := r.Stats()
	total := stats.DocHits + stats.DocMisses + stats.HandleHits + stats.HandleMisses
	hits := stats.DocHits + stats.HandleHits
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	slog.Info("resolver cache stats",
		"lookups", total,
		"hit_rate", hitRate,
		"doc_entries", stats.DocEntries,
		"handle_entries", stats.HandleEntries,
		"failures", stats.Failures)
}

// noteFailure counts a failed resolution and logs a small sample of
// them. Resolution failures are routine at firehose volume; logging
// each one would drown everything else.
func (r *cachingResolver) noteFailure(identifier string, err error) {
	r.failures.Add(1)
	if r.warnCount.Add(1)%100 == 1 {
		slog.Warn("identity resolution failed", "identifier", identifier, "error", err)
	}
}

// handleFromDocument extracts the first plausible handle alias.
func handleFromDocument(doc *DIDDocument) string {
	if doc == nil {
		return ""
	}
	for _, aka := range doc.AlsoKnownAs {
		handle := strings.TrimPrefix(aka, "at://")
		if handle != aka && strings.Contains(handle, ".") {
			return strings.ToLower(handle)
		}
	}
	return ""
}

func normalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "at://")
	handle = strings.TrimPrefix(handle, "@")
	return strings.ToLower(handle)
}
