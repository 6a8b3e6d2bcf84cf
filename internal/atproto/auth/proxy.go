package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Skyview/internal/atproto/pds"
	"Skyview/internal/metrics"
)

// proxyTimeout bounds one upstream call made on a client's behalf.
const proxyTimeout = 20 * time.Second

// forwardableHeaders is the request-header allow-list. Everything
// else on the inbound request is dropped so client cookies and
// internal headers never reach an upstream host.
var forwardableHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

// Proxy forwards XRPC calls to PDS hosts and feed generators on
// behalf of clients. Session tokens stay server-side; the proxy
// attaches them (or a freshly minted service token) to the upstream
// request, never exposing them in responses.
type Proxy struct {
	signer *ServiceSigner
	pool   *pds.Pool
	httpc  *http.Client
}

// NewProxy builds a proxy that signs service tokens with signer and
// reuses pool's per-host session clients.
func NewProxy(signer *ServiceSigner, pool *pds.Pool) *Proxy {
	return &Proxy{
		signer: signer,
		pool:   pool,
		httpc:  &http.Client{Timeout: proxyTimeout},
	}
}

// ProxyXRPC forwards one XRPC call to host and returns the upstream
// response with hop-unsafe headers removed. The caller owns the
// response body. token goes out as the Authorization bearer; pass ""
// for unauthenticated calls. body and contentType carry procedure
// inputs and may be nil/"".
func (p *Proxy) ProxyXRPC(ctx context.Context, host, httpMethod, xrpcMethod string, query url.Values, token string, body io.Reader, contentType string, inbound http.Header) (*http.Response, error) {
	u := strings.TrimRight(host, "/") + "/xrpc/" + xrpcMethod
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, u, body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	for _, name := range forwardableHeaders {
		for _, v := range inbound.Values(name) {
			req.Header.Add(name, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+stripBearerPrefix(token))
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		metrics.ProxiedRequests.WithLabelValues(xrpcMethod, "error").Inc()
		return nil, fmt.Errorf("calling %s: %w", xrpcMethod, err)
	}

	// Upstream cookies must never reach our clients.
	resp.Header.Del("Set-Cookie")

	metrics.ProxiedRequests.WithLabelValues(xrpcMethod, statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// ProxyAsService forwards a call authenticated with a minted service
// token instead of a user's session token. audience is the
// destination service's DID; subject, when non-empty, names the user
// the call is made on behalf of.
func (p *Proxy) ProxyAsService(ctx context.Context, host, httpMethod, xrpcMethod string, query url.Values, audience, subject string, inbound http.Header) (*http.Response, error) {
	token, err := p.signer.Sign(audience, subject)
	if err != nil {
		return nil, fmt.Errorf("minting service token: %w", err)
	}
	return p.ProxyXRPC(ctx, host, httpMethod, xrpcMethod, query, token, nil, "", inbound)
}

// Login creates a session on the user's PDS and returns the token
// pair for the session store to seal.
func (p *Proxy) Login(ctx context.Context, pdsHost, identifier, password string) (*pds.Session, error) {
	return p.pool.ForHost(pdsHost).CreateSession(ctx, identifier, password)
}

// Refresh exchanges a refresh token for a fresh session pair.
func (p *Proxy) Refresh(ctx context.Context, pdsHost, refreshJwt string) (*pds.Session, error) {
	return p.pool.ForHost(pdsHost).RefreshSession(ctx, refreshJwt)
}

// GetSession asks the PDS which account an access token belongs to.
func (p *Proxy) GetSession(ctx context.Context, pdsHost, accessJwt string) (*pds.Session, error) {
	return p.pool.ForHost(pdsHost).GetSession(ctx, accessJwt)
}

// VerifyUserToken checks that accessJwt is a live session token for
// did by asking the issuing PDS. PDS access tokens are signed with a
// secret only the PDS holds, so asking it is the only sound check.
func (p *Proxy) VerifyUserToken(ctx context.Context, did, pdsHost, accessJwt string) error {
	sess, err := p.pool.ForHost(pdsHost).GetSession(ctx, stripBearerPrefix(accessJwt))
	if err != nil {
		return fmt.Errorf("verifying token with PDS: %w", err)
	}
	if sess.DID != did {
		return fmt.Errorf("token belongs to %s, not %s", sess.DID, did)
	}
	return nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
