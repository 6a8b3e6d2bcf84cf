package routes

import (
	"Skyview/internal/api/handlers/feed"
	"Skyview/internal/api/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterFeedRoutes wires the feed skeleton passthrough. Anonymous
// viewers are allowed; authenticated ones are named in the service
// token so generators can personalize.
func RegisterFeedRoutes(r chi.Router, h *feed.Handler, auth *middleware.SessionAuth) {
	r.With(auth.OptionalAuth).Get("/xrpc/app.bsky.feed.getFeedSkeleton", h.HandleGetFeedSkeleton)
}
