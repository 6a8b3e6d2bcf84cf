package routes

import (
	"Skyview/internal/api/handlers/sessions"
	"Skyview/internal/api/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterSessionRoutes wires the proxied com.atproto.server session
// endpoints. Login is open; refresh and getSession need a live cookie
// session; logout tolerates a stale one.
func RegisterSessionRoutes(r chi.Router, h *sessions.Handler, auth *middleware.SessionAuth) {
	r.Post("/xrpc/com.atproto.server.createSession", h.HandleCreateSession)
	r.With(auth.RequireAuth).Post("/xrpc/com.atproto.server.refreshSession", h.HandleRefreshSession)
	r.With(auth.RequireAuth).Get("/xrpc/com.atproto.server.getSession", h.HandleGetSession)
	r.With(auth.OptionalAuth).Post("/xrpc/com.atproto.server.deleteSession", h.HandleDeleteSession)
}
