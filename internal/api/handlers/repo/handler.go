// Package repo proxies com.atproto.repo reads and writes. Writes go to
// the viewer's own PDS with their sealed access token; reads go to
// whichever PDS hosts the requested repository.
package repo

import (
	"bytes"
	"errors"
	"io"
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

// maxWriteBody bounds createRecord bodies; records with embeds stay
// well under this.
const maxWriteBody = 1 * 1024 * 1024

type Handler struct {
	proxy    *auth.Proxy
	store    *session.Store
	resolver identity.Resolver
}

func NewHandler(proxy *auth.Proxy, store *session.Store, resolver identity.Resolver) *Handler {
	return &Handler{proxy: proxy, store: store, resolver: resolver}
}

// HandleCreateRecord handles POST /xrpc/com.atproto.repo.createRecord.
func (h *Handler) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "com.atproto.repo.createRecord")
}

// HandleDeleteRecord handles POST /xrpc/com.atproto.repo.deleteRecord.
func (h *Handler) HandleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "com.atproto.repo.deleteRecord")
}

// write forwards a repo mutation to the viewer's PDS. An expired access
// token gets one transparent refresh; everything else, including PDS
// validation errors, is relayed to the client verbatim.
func (h *Handler) write(w http.ResponseWriter, r *http.Request, xrpcMethod string) {
	sess := middleware.ViewerSession(r)
	if sess == nil {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthenticationRequired", "Repo writes require a session")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWriteBody)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Could not read request body")
		return
	}

	ctx := r.Context()
	contentType := r.Header.Get("Content-Type")
	resp, err := h.proxy.ProxyXRPC(ctx, sess.PDSEndpoint, http.MethodPost, xrpcMethod,
		nil, sess.AccessJwt, bytes.NewReader(body), contentType, r.Header)
	if err != nil {
		handlers.WriteUpstreamError(w, err)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		access, rerr := h.refreshTokens(r, sess)
		if rerr != nil {
			if errors.Is(rerr, pds.ErrUnauthorized) {
				// The refresh token is dead too; drop the session so
				// the client re-authenticates instead of retrying.
				if derr := h.store.Delete(ctx, sess.ID); derr != nil {
					slog.Warn("deleting rejected session failed", "did", sess.DID, "error", derr)
				}
			}
			handlers.WriteUpstreamError(w, rerr)
			return
		}
		resp, err = h.proxy.ProxyXRPC(ctx, sess.PDSEndpoint, http.MethodPost, xrpcMethod,
			nil, access, bytes.NewReader(body), contentType, r.Header)
		if err != nil {
			handlers.WriteUpstreamError(w, err)
			return
		}
	}
	defer resp.Body.Close()

	handlers.Relay(w, resp)
}

// HandleGetRecord handles GET /xrpc/com.atproto.repo.getRecord.
func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "com.atproto.repo.getRecord", []string{"repo", "collection", "rkey"})
}

// HandleListRecords handles GET /xrpc/com.atproto.repo.listRecords.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	h.read(w, r, "com.atproto.repo.listRecords", []string{"repo", "collection"})
}

// read forwards a public repo read to the PDS hosting the target repo.
func (h *Handler) read(w http.ResponseWriter, r *http.Request, xrpcMethod string, required []string) {
	query := r.URL.Query()
	for _, param := range required {
		if query.Get(param) == "" {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", param+" is required")
			return
		}
	}

	ctx := r.Context()
	target := query.Get("repo")
	did := target
	if !strings.HasPrefix(did, "did:") {
		did = h.resolver.ResolveHandleToDID(ctx, target)
		if did == "" {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "could not resolve repo")
			return
		}
	}
	endpoint := h.resolver.ResolveDIDToPDS(ctx, did)
	if endpoint == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "repo has no PDS endpoint")
		return
	}

	resp, err := h.proxy.ProxyXRPC(ctx, endpoint, http.MethodGet, xrpcMethod, query, "", nil, "", r.Header)
	if err != nil {
		handlers.WriteUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	handlers.Relay(w, resp)
}

// refreshTokens rotates the viewer's sealed token pair and returns the
// new access token.
func (h *Handler) refreshTokens(r *http.Request, sess *session.Session) (string, error) {
	ctx := r.Context()
	upstream, err := h.proxy.Refresh(ctx, sess.PDSEndpoint, sess.RefreshJwt)
	if err != nil {
		return "", err
	}
	if err := h.store.UpdateTokens(ctx, sess.ID, upstream.AccessJwt, upstream.RefreshJwt); err != nil {
		slog.Error("storing refreshed tokens failed", "did", sess.DID, "error", err)
		return "", err
	}
	return upstream.AccessJwt, nil
}
