package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// jwksRefreshInterval is the floor on how often a registered JWKS URL
// is refetched. Key rotation forces an early refresh, so this mostly
// bounds background traffic.
const jwksRefreshInterval = 15 * time.Minute

// RemoteKeys resolves signing keys for HTTPS issuers: the issuer's
// OAuth metadata names a jwks_uri, and the key set behind it is
// cached and refreshed by jwx. Implements KeyFetcher.
type RemoteKeys struct {
	cache *jwk.Cache
	httpc *http.Client

	mu         sync.Mutex
	jwksURLs   map[string]string
	registered map[string]struct{}
}

// NewRemoteKeys builds a fetcher. ctx scopes the background refresh
// goroutine; cancel it to stop refreshing.
func NewRemoteKeys(ctx context.Context) *RemoteKeys {
	return &RemoteKeys{
		cache:      jwk.NewCache(ctx),
		httpc:      &http.Client{Timeout: 10 * time.Second},
		jwksURLs:   make(map[string]string),
		registered: make(map[string]struct{}),
	}
}

// FetchPublicKey returns the issuer's key matching the token's kid.
// A kid miss forces one refresh before failing, so freshly rotated
// keys are picked up without waiting out the cache interval.
func (r *RemoteKeys) FetchPublicKey(ctx context.Context, issuer, token string) (interface{}, error) {
	kid, err := ExtractKeyID(token)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		return nil, fmt.Errorf("token carries no key ID")
	}

	jwksURL, err := r.jwksURL(ctx, issuer)
	if err != nil {
		return nil, err
	}
	set, err := r.keySet(ctx, jwksURL)
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		set, err = r.cache.Refresh(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("refreshing key set for %s: %w", issuer, err)
		}
		key, ok = set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("issuer %s publishes no key %q", issuer, kid)
		}
	}

	var pub interface{}
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("materializing key %q: %w", kid, err)
	}
	return pub, nil
}

func (r *RemoteKeys) keySet(ctx context.Context, jwksURL string) (jwk.Set, error) {
	r.mu.Lock()
	if _, ok := r.registered[jwksURL]; !ok {
		err := r.cache.Register(jwksURL,
			jwk.WithMinRefreshInterval(jwksRefreshInterval),
			jwk.WithHTTPClient(r.httpc))
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("registering JWKS URL: %w", err)
		}
		r.registered[jwksURL] = struct{}{}
	}
	r.mu.Unlock()

	set, err := r.cache.Get(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetching key set: %w", err)
	}
	return set, nil
}

// jwksURL discovers the issuer's jwks_uri via its OAuth authorization
// server metadata. The mapping is cached for the process lifetime;
// issuers do not move their key set URL in practice.
func (r *RemoteKeys) jwksURL(ctx context.Context, issuer string) (string, error) {
	r.mu.Lock()
	if u, ok := r.jwksURLs[issuer]; ok {
		r.mu.Unlock()
		return u, nil
	}
	r.mu.Unlock()

	metadataURL := strings.TrimSuffix(issuer, "/") + "/.well-known/oauth-authorization-server"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return "", fmt.Errorf("building metadata request: %w", err)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching issuer metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("issuer metadata returned %d", resp.StatusCode)
	}

	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&metadata); err != nil {
		return "", fmt.Errorf("parsing issuer metadata: %w", err)
	}
	if metadata.JWKSURI == "" {
		return "", fmt.Errorf("issuer %s metadata has no jwks_uri", issuer)
	}

	r.mu.Lock()
	r.jwksURLs[issuer] = metadata.JWKSURI
	r.mu.Unlock()
	return metadata.JWKSURI, nil
}
