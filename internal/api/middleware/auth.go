package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"Skyview/internal/atproto/auth"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/session"
)

// Context keys for the authenticated viewer.
type contextKey string

const (
	ViewerDIDKey     contextKey = "viewer_did"
	ViewerSessionKey contextKey = "viewer_session"
	JWTClaimsKey     contextKey = "jwt_claims"
)

// SessionAuth resolves the viewer behind a request. Browser clients
// carry an opaque session cookie; services and native clients carry a
// bearer token. Both paths land in the same context keys so handlers
// never care which one was used.
type SessionAuth struct {
	sessions *session.Store
	cookies  *session.Cookies
	verifier *auth.Verifier
	proxy    *auth.Proxy
	resolver identity.Resolver
}

func NewSessionAuth(sessions *session.Store, cookies *session.Cookies, verifier *auth.Verifier, proxy *auth.Proxy, resolver identity.Resolver) *SessionAuth {
	return &SessionAuth{
		sessions: sessions,
		cookies:  cookies,
		verifier: verifier,
		proxy:    proxy,
		resolver: resolver,
	}
}

// RequireAuth rejects requests without a resolvable viewer.
func (m *SessionAuth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, ok := m.authenticate(r)
		if !ok {
			writeAuthError(w, "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth resolves the viewer when credentials are present but
// lets anonymous requests through untouched.
func (m *SessionAuth) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, ok := m.authenticate(r); ok {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate tries the session cookie first, then the Authorization
// header. It returns the enriched context and whether a viewer was
// established.
func (m *SessionAuth) authenticate(r *http.Request) (context.Context, bool) {
	ctx := r.Context()

	if sid := m.cookies.Read(r); sid != "" {
		sess, err := m.sessions.Get(ctx, sid)
		switch {
		case err == nil:
			ctx = context.WithValue(ctx, ViewerDIDKey, sess.DID)
			ctx = context.WithValue(ctx, ViewerSessionKey, sess)
			return ctx, true
		case !errors.Is(err, session.ErrNotFound):
			slog.Warn("session lookup failed", "error", err)
		}
		// A stale cookie is not an error; fall through to the header.
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return ctx, false
	}

	claims, err := m.verifier.Verify(ctx, header)
	if err != nil {
		claims, err = m.verifyPDSAccessToken(ctx, header, err)
	}
	if err != nil {
		slog.Warn("bearer auth failed", "path", r.URL.Path, "error", err)
		return ctx, false
	}
	did := claims.DID()
	if did == "" {
		return ctx, false
	}
	ctx = context.WithValue(ctx, ViewerDIDKey, did)
	ctx = context.WithValue(ctx, JWTClaimsKey, claims)
	return ctx, true
}

// verifyPDSAccessToken handles access tokens minted by the holder's
// own PDS. Those are signed with a key we do not share, so the only
// authority that can vouch for one is the PDS itself: we ask it via
// getSession and require the reported DID to match the token subject.
func (m *SessionAuth) verifyPDSAccessToken(ctx context.Context, header string, verifyErr error) (*auth.Claims, error) {
	claims, err := auth.ParseUnverified(header)
	if err != nil {
		return nil, verifyErr
	}
	if claims.Scope != "com.atproto.access" || !strings.HasPrefix(claims.Subject, "did:") {
		return nil, verifyErr
	}
	endpoint := m.resolver.ResolveDIDToPDS(ctx, claims.Subject)
	if endpoint == "" {
		return nil, verifyErr
	}
	if err := m.proxy.VerifyUserToken(ctx, claims.Subject, endpoint, header); err != nil {
		return nil, err
	}
	return claims, nil
}

// ViewerDID returns the authenticated viewer's DID, or "".
func ViewerDID(r *http.Request) string {
	did, _ := r.Context().Value(ViewerDIDKey).(string)
	return did
}

// ViewerDIDFromContext is the context-level variant for service code
// that has no request in hand.
func ViewerDIDFromContext(ctx context.Context) string {
	did, _ := ctx.Value(ViewerDIDKey).(string)
	return did
}

// ViewerSession returns the sealed session backing a cookie-based
// viewer, or nil when the viewer authenticated with a bearer token.
func ViewerSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(ViewerSessionKey).(*session.Session)
	return sess
}

// JWTClaims returns the verified claims behind a bearer-token viewer,
// or nil.
func JWTClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(JWTClaimsKey).(*auth.Claims)
	return claims
}

// SetTestViewer injects a viewer DID directly. Only tests should use it.
func SetTestViewer(ctx context.Context, did string) context.Context {
	return context.WithValue(ctx, ViewerDIDKey, did)
}

// SetTestSession injects a cookie-backed viewer directly. Only tests
// should use it.
func SetTestSession(ctx context.Context, sess *session.Session) context.Context {
	ctx = context.WithValue(ctx, ViewerDIDKey, sess.DID)
	return context.WithValue(ctx, ViewerSessionKey, sess)
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "AuthenticationRequired",
		"message": message,
	}); err != nil {
		slog.Error("writing auth error failed", "error", err)
	}
}
