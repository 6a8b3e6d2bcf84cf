package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	wellKnownDIDPath    = "/.well-known/atproto-did"
	dnsHandlePrefix     = "_atproto."
	dnsTXTValuePrefix   = "did="
	maxDocumentBytes    = 1 << 20 // DID documents are small; anything near this is hostile
	maxWellKnownBytes   = 4 << 10
	handleLookupTimeout = 5 * time.Second
)

// baseResolver performs the actual network lookups: PLC directory and
// did:web fetches for DID documents, DNS TXT and HTTPS well-known for
// handles. Callers go through the caching resolver, not this directly.
type baseResolver struct {
	plcURL     string
	httpClient *http.Client
	guard      *endpointGuard
	breaker    *gobreaker.CircuitBreaker

	maxRetries     int
	retryDelay     time.Duration
	attemptTimeout time.Duration

	// swapped out in tests
	lookupTXT func(ctx context.Context, name string) ([]string, error)
}

func newBaseResolver(cfg Config, guard *endpointGuard) *baseResolver {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "plc-directory",
		MaxRequests: 1,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.CircuitBreakerThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Missing or malformed identities are answers, not outages.
			var notFound *ErrNotFound
			var invalid *ErrInvalidIdentifier
			return err == nil || errors.As(err, &notFound) || errors.As(err, &invalid)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &baseResolver{
		plcURL:         strings.TrimRight(cfg.PLCURL, "/"),
		httpClient:     cfg.HTTPClient,
		guard:          guard,
		breaker:        breaker,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		attemptTimeout: cfg.AttemptTimeout,
		lookupTXT:      net.DefaultResolver.LookupTXT,
	}
}

// fetchDIDDocument resolves a DID to its document, retrying transient
// failures with exponential backoff. Not-found and malformed documents
// are terminal and returned immediately.
func (r *baseResolver) fetchDIDDocument(ctx context.Context, did string) (*DIDDocument, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		doc, err := r.fetchOnce(attemptCtx, did)
		cancel()

		if err == nil {
			return doc, nil
		}
		if isTerminal(err) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ErrResolutionFailed{Identifier: did, Reason: "PLC directory circuit open"}
		}
		lastErr = err
	}
	return nil, &ErrResolutionFailed{Identifier: did, Reason: fmt.Sprintf("exhausted retries: %v", lastErr)}
}

func (r *baseResolver) fetchOnce(ctx context.Context, did string) (*DIDDocument, error) {
	switch {
	case strings.HasPrefix(did, "did:plc:"):
		res, err := r.breaker.Execute(func() (interface{}, error) {
			return r.fetchPLCDocument(ctx, did)
		})
		if err != nil {
			return nil, err
		}
		return res.(*DIDDocument), nil
	case strings.HasPrefix(did, "did:web:"):
		return r.fetchWebDocument(ctx, did)
	default:
		return nil, &ErrInvalidIdentifier{Identifier: did, Reason: "unsupported DID method"}
	}
}

func (r *baseResolver) fetchPLCDocument(ctx context.Context, did string) (*DIDDocument, error) {
	return r.fetchDocument(ctx, did, r.plcURL+"/"+url.PathEscape(did))
}

func (r *baseResolver) fetchWebDocument(ctx context.Context, did string) (*DIDDocument, error) {
	docURL, err := webDIDURL(did)
	if err != nil {
		return nil, err
	}
	if u, parseErr := url.Parse(docURL); parseErr == nil {
		if err := r.guard.CheckHost(u.Host); err != nil {
			return nil, err
		}
	}
	return r.fetchDocument(ctx, did, docURL)
}

func (r *baseResolver) fetchDocument(ctx context.Context, did, docURL string) (*DIDDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/did+ld+json, application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching DID document: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, &ErrNotFound{Identifier: did, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("DID document fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading DID document: %w", err)
	}

	var doc DIDDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &ErrResolutionFailed{Identifier: did, Reason: "malformed DID document"}
	}
	// A document claiming a different DID is an impersonation attempt or
	// a misconfigured server; either way it must not be trusted.
	if doc.ID != did {
		return nil, &ErrResolutionFailed{
			Identifier: did,
			Reason:     fmt.Sprintf("document id %q does not match requested DID", doc.ID),
		}
	}
	return &doc, nil
}

// webDIDURL maps did:web:example.com to https://example.com/.well-known/did.json
// and did:web:example.com:u:alice to https://example.com/u/alice/did.json.
func webDIDURL(did string) (string, error) {
	rest := strings.TrimPrefix(did, "did:web:")
	if rest == "" {
		return "", &ErrInvalidIdentifier{Identifier: did, Reason: "empty did:web host"}
	}
	segments := strings.Split(rest, ":")
	host, err := url.PathUnescape(segments[0])
	if err != nil || host == "" {
		return "", &ErrInvalidIdentifier{Identifier: did, Reason: "invalid did:web host"}
	}
	if len(segments) == 1 {
		return "https://" + host + "/.well-known/did.json", nil
	}
	for i, seg := range segments[1:] {
		unescaped, err := url.PathUnescape(seg)
		if err != nil || unescaped == "" {
			return "", &ErrInvalidIdentifier{Identifier: did, Reason: "invalid did:web path segment"}
		}
		segments[1+i] = unescaped
	}
	return "https://" + host + "/" + strings.Join(segments[1:], "/") + "/did.json", nil
}

// resolveHandle maps a handle to its DID: DNS TXT record first, HTTPS
// well-known fallback with the same retry policy as document fetches.
func (r *baseResolver) resolveHandle(ctx context.Context, handle string) (string, error) {
	if did, err := r.handleViaDNS(ctx, handle); err == nil && did != "" {
		return did, nil
	}

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, r.backoff(attempt)); err != nil {
				return "", err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		did, err := r.handleViaWellKnown(attemptCtx, handle)
		cancel()

		if err == nil {
			return did, nil
		}
		if isTerminal(err) {
			return "", err
		}
		lastErr = err
	}
	return "", &ErrResolutionFailed{Identifier: handle, Reason: fmt.Sprintf("exhausted retries: %v", lastErr)}
}

func (r *baseResolver) handleViaDNS(ctx context.Context, handle string) (string, error) {
	dnsCtx, cancel := context.WithTimeout(ctx, handleLookupTimeout)
	defer cancel()

	records, err := r.lookupTXT(dnsCtx, dnsHandlePrefix+handle)
	if err != nil {
		return "", err
	}
	for _, txt := range records {
		value := strings.TrimSpace(txt)
		if strings.HasPrefix(value, dnsTXTValuePrefix) {
			did := strings.TrimPrefix(value, dnsTXTValuePrefix)
			if strings.HasPrefix(did, "did:") {
				return did, nil
			}
		}
	}
	return "", &ErrNotFound{Identifier: handle, Reason: "no _atproto TXT record"}
}

func (r *baseResolver) handleViaWellKnown(ctx context.Context, handle string) (string, error) {
	endpoint := "https://" + handle + wellKnownDIDPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching well-known DID: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &ErrNotFound{Identifier: handle, Reason: "no well-known DID"}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("well-known DID fetch returned status %d", resp.StatusCode)
	}

	// Parked domains and misconfigured hosts answer 200 with an HTML
	// landing page or a JSON error body.
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/json") {
		return "", &ErrNotFound{Identifier: handle, Reason: "well-known endpoint returned " + contentType}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWellKnownBytes))
	if err != nil {
		return "", fmt.Errorf("reading well-known DID: %w", err)
	}

	did := strings.TrimSpace(string(body))
	if !strings.HasPrefix(did, "did:") {
		return "", &ErrNotFound{Identifier: handle, Reason: "well-known body is not a DID"}
	}
	return did, nil
}

func (r *baseResolver) backoff(attempt int) time.Duration {
	return r.retryDelay * time.Duration(1<<uint(attempt-1))
}

// isTerminal reports whether retrying this error could change the outcome.
func isTerminal(err error) bool {
	var notFound *ErrNotFound
	var invalid *ErrInvalidIdentifier
	var failed *ErrResolutionFailed
	var unsafe *ErrUnsafeEndpoint
	return errors.As(err, &notFound) ||
		errors.As(err, &invalid) ||
		errors.As(err, &failed) ||
		errors.As(err, &unsafe)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
