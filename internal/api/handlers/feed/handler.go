// Package feed forwards app.bsky.feed.getFeedSkeleton to the feed
// generator a feed URI declares.
package feed

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"Skyview/internal/api/handlers"
	"Skyview/internal/api/middleware"
	"Skyview/internal/atproto/auth"
	"Skyview/internal/atproto/identity"
	"Skyview/internal/core/feeds"
)

type Handler struct {
	proxy    *auth.Proxy
	feeds    feeds.FeedGeneratorRepository
	resolver identity.Resolver
}

func NewHandler(proxy *auth.Proxy, repo feeds.FeedGeneratorRepository, resolver identity.Resolver) *Handler {
	return &Handler{proxy: proxy, feeds: repo, resolver: resolver}
}

// HandleGetFeedSkeleton handles GET /xrpc/app.bsky.feed.getFeedSkeleton.
// The feed URI is looked up in the generator index, the generator's
// service DID resolved to an endpoint, and the call forwarded with a
// service token naming the viewer as subject. Callers that brought
// their own service token keep it.
func (h *Handler) HandleGetFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	feedURI := query.Get("feed")
	if !strings.HasPrefix(feedURI, "at://") {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "feed must be an at:// URI")
		return
	}

	ctx := r.Context()
	gen, err := h.feeds.GetByURI(ctx, feedURI)
	if err != nil {
		if errors.Is(err, feeds.ErrFeedNotFound) {
			handlers.WriteError(w, http.StatusBadRequest, "UnknownFeed", "Feed not found")
			return
		}
		slog.Error("feed generator lookup failed", "feed", feedURI, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "Feed lookup failed")
		return
	}

	endpoint := h.resolver.ResolveDIDToFeedGenerator(ctx, gen.FeedDID)
	if endpoint == "" {
		handlers.WriteError(w, http.StatusBadRequest, "UnknownFeed", "Feed generator is unreachable")
		return
	}

	var resp *http.Response
	if claims := middleware.JWTClaims(r); claims != nil {
		// The caller authenticated with its own token; the generator
		// should see that identity, not ours.
		resp, err = h.proxy.ProxyXRPC(ctx, endpoint, http.MethodGet, "app.bsky.feed.getFeedSkeleton",
			query, r.Header.Get("Authorization"), nil, "", r.Header)
	} else {
		resp, err = h.proxy.ProxyAsService(ctx, endpoint, http.MethodGet, "app.bsky.feed.getFeedSkeleton",
			query, gen.FeedDID, middleware.ViewerDID(r), r.Header)
	}
	if err != nil {
		handlers.WriteUpstreamError(w, err)
		return
	}
	defer resp.Body.Close()

	handlers.Relay(w, resp)
}
