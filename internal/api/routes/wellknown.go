package routes

import (
	"github.com/go-chi/chi/v5"

	"Skyview/internal/api/handlers/wellknown"
)

// RegisterWellKnownRoutes serves the AppView's did:web identity
// document. Must live at the exact RFC 8615 path, no redirects.
func RegisterWellKnownRoutes(r chi.Router, h *wellknown.Handler) {
	r.Get("/.well-known/did.json", h.HandleDIDDocument)
}
