package routes

import (
	"Skyview/internal/api/handlers/repo"
	"Skyview/internal/api/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterRepoRoutes wires the proxied com.atproto.repo endpoints.
// Writes need an authenticated session; reads are public and follow
// the target repo to its PDS.
func RegisterRepoRoutes(r chi.Router, h *repo.Handler, auth *middleware.SessionAuth) {
	r.With(auth.RequireAuth).Post("/xrpc/com.atproto.repo.createRecord", h.HandleCreateRecord)
	r.With(auth.RequireAuth).Post("/xrpc/com.atproto.repo.deleteRecord", h.HandleDeleteRecord)
	r.Get("/xrpc/com.atproto.repo.getRecord", h.HandleGetRecord)
	r.Get("/xrpc/com.atproto.repo.listRecords", h.HandleListRecords)
}
