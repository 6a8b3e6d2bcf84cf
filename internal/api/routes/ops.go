package routes

import (
	"Skyview/internal/api/handlers/backfill"
	"Skyview/internal/api/handlers/status"
	"Skyview/internal/api/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterOpsRoutes wires the operational endpoints: the pipeline
// status document and the user-initiated backfill trigger.
func RegisterOpsRoutes(r chi.Router, statusHandler *status.Handler, backfillHandler *backfill.Handler, auth *middleware.SessionAuth) {
	r.Get("/api/firehose/status", statusHandler.HandleGetStatus)
	r.With(auth.RequireAuth).Post("/api/user/backfill", backfillHandler.HandleRequestBackfill)
}
