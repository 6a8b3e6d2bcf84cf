// Package sessions proxies the com.atproto.server session lifecycle to
// the viewer's PDS. The token pair from a login never reaches the
// client: it is sealed into the server-side session store and the
// client holds only an opaque cookie.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"Skyview/internal/api/handlers"
	"Skyview/internal/api/middleware"
	"Skyview/internal/atproto/auth"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/atproto/pds"
	"Skyview/internal/session"
)

const maxLoginBody = 64 * 1024

// Handler serves createSession, refreshSession, getSession and
// deleteSession against the viewer's own PDS.
type Handler struct {
	proxy    *auth.Proxy
	store    *session.Store
	cookies  *session.Cookies
	resolver identity.Resolver
}

func NewHandler(proxy *auth.Proxy, store *session.Store, cookies *session.Cookies, resolver identity.Resolver) *Handler {
	return &Handler{proxy: proxy, store: store, cookies: cookies, resolver: resolver}
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// sessionView is what clients get instead of the raw token pair.
type sessionView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Email  string `json:"email,omitempty"`
	Active bool   `json:"active"`
}

// HandleCreateSession handles POST /xrpc/com.atproto.server.createSession.
// The identifier is resolved to the account's PDS and the login happens
// there; on success the token pair is sealed server-side and the client
// receives a session cookie.
func (h *Handler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "identifier and password are required")
		return
	}

	// Email logins only work against the PDS that holds the account,
	// and an email gives us nothing to resolve the PDS from.
	if strings.Contains(req.Identifier, "@") {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "log in with your handle or DID")
		return
	}

	ctx := r.Context()
	did := req.Identifier
	if !strings.HasPrefix(did, "did:") {
		did = h.resolver.ResolveHandleToDID(ctx, req.Identifier)
		if did == "" {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "could not resolve identifier")
			return
		}
	}
	endpoint := h.resolver.ResolveDIDToPDS(ctx, did)
	if endpoint == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "account has no PDS endpoint")
		return
	}

	upstream, err := h.proxy.Login(ctx, endpoint, req.Identifier, req.Password)
	if err != nil {
		handlers.WriteUpstreamError(w, err)
		return
	}

	sess := &session.Session{
		DID:         upstream.DID,
		Handle:      upstream.Handle,
		PDSEndpoint: endpoint,
		AccessJwt:   upstream.AccessJwt,
		RefreshJwt:  upstream.RefreshJwt,
	}
	if _, err := h.store.Create(ctx, sess); err != nil {
		slog.Error("creating session failed", "did", upstream.DID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "Could not create session")
		return
	}
	if err := h.cookies.Write(w, r, sess.ID); err != nil {
		slog.Error("writing session cookie failed", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "Could not create session")
		return
	}

	slog.Info("session created", "did", upstream.DID, "handle", upstream.Handle, "pds", endpoint)
	handlers.WriteJSON(w, http.StatusOK, sessionView{
		DID:    upstream.DID,
		Handle: upstream.Handle,
		Email:  upstream.Email,
		Active: upstream.Active,
	})
}

// HandleRefreshSession handles POST /xrpc/com.atproto.server.refreshSession.
// The sealed refresh token rotates the pair at the PDS; the cookie is
// unchanged. A rejected refresh invalidates the session.
func (h *Handler) HandleRefreshSession(w http.ResponseWriter, r *http.Request) {
	sess := middleware.ViewerSession(r)
	if sess == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthenticationRequired", "No session")
		return
	}

	ctx := r.Context()
	upstream, err := h.proxy.Refresh(ctx, sess.PDSEndpoint, sess.RefreshJwt)
	if err != nil {
		if errors.Is(err, pds.ErrUnauthorized) {
			h.discard(w, r, sess.ID)
		}
		handlers.WriteUpstreamError(w, err)
		return
	}
	if err := h.store.UpdateTokens(ctx, sess.ID, upstream.AccessJwt, upstream.RefreshJwt); err != nil {
		slog.Error("storing refreshed tokens failed", "did", sess.DID, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "Could not refresh session")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, sessionView{
		DID:    upstream.DID,
		Handle: upstream.Handle,
		Active: upstream.Active,
	})
}

// HandleGetSession handles GET /xrpc/com.atproto.server.getSession,
// proxied to the PDS with the sealed access token. An expired token
// gets one transparent refresh before the request fails.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sess := middleware.ViewerSession(r)
	if sess == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthenticationRequired", "No session")
		return
	}

	ctx := r.Context()
	upstream, err := h.proxy.GetSession(ctx, sess.PDSEndpoint, sess.AccessJwt)
	if errors.Is(err, pds.ErrUnauthorized) {
		refreshed, rerr := h.refreshTokens(ctx, sess)
		if rerr != nil {
			err = rerr
		} else {
			sess = refreshed
			upstream, err = h.proxy.GetSession(ctx, sess.PDSEndpoint, sess.AccessJwt)
		}
	}
	if err != nil {
		if errors.Is(err, pds.ErrUnauthorized) {
			h.discard(w, r, sess.ID)
		}
		handlers.WriteUpstreamError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, sessionView{
		DID:    upstream.DID,
		Handle: upstream.Handle,
		Email:  upstream.Email,
		Active: upstream.Active,
	})
}

// HandleDeleteSession handles POST /xrpc/com.atproto.server.deleteSession.
// Logout is idempotent: the cookie is cleared even when the session is
// already gone, and a PDS revocation failure only gets logged.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sess := middleware.ViewerSession(r); sess != nil {
		// deleteSession revokes by refresh token.
		resp, err := h.proxy.ProxyXRPC(ctx, sess.PDSEndpoint, http.MethodPost,
			"com.atproto.server.deleteSession", nil, sess.RefreshJwt, nil, "", nil)
		if err != nil {
			slog.Warn("revoking session upstream failed", "did", sess.DID, "error", err)
		} else {
			resp.Body.Close()
		}
		if err := h.store.Delete(ctx, sess.ID); err != nil {
			slog.Warn("deleting session failed", "did", sess.DID, "error", err)
		}
	}
	if err := h.cookies.Clear(w, r); err != nil {
		slog.Warn("clearing session cookie failed", "error", err)
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]string{})
}

// refreshTokens rotates the sealed pair and returns the updated session.
func (h *Handler) refreshTokens(ctx context.Context, sess *session.Session) (*session.Session, error) {
	upstream, err := h.proxy.Refresh(ctx, sess.PDSEndpoint, sess.RefreshJwt)
	if err != nil {
		return nil, err
	}
	if err := h.store.UpdateTokens(ctx, sess.ID, upstream.AccessJwt, upstream.RefreshJwt); err != nil {
		return nil, err
	}
	updated := *sess
	updated.AccessJwt = upstream.AccessJwt
	updated.RefreshJwt = upstream.RefreshJwt
	return &updated, nil
}

// discard drops a session the PDS no longer honors.
func (h *Handler) discard(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := h.store.Delete(r.Context(), sessionID); err != nil {
		slog.Warn("deleting rejected session failed", "error", err)
	}
	if err := h.cookies.Clear(w, r); err != nil {
		slog.Warn("clearing session cookie failed", "error", err)
	}
}
