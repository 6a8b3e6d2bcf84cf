// Package backfill lets a signed-in user pull their follow graph into
// the index on demand.
package backfill

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"Skyview/internal/api/handlers"
	"Skyview/internal/api/middleware"
	"Skyview/internal/repair"
)

type Handler struct {
	backfiller *repair.Backfiller
}

func NewHandler(backfiller *repair.Backfiller) *Handler {
	return &Handler{backfiller: backfiller}
}

type backfillRequest struct {
	Force bool `json:"force"`
}

// HandleRequestBackfill handles POST /api/user/backfill. The import
// runs in the background; the response only says whether it was
// accepted. An empty body means a plain, unforced request.
func (h *Handler) HandleRequestBackfill(w http.ResponseWriter, r *http.Request) {
	did := middleware.ViewerDID(r)
	if did == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthenticationRequired", "Authentication required")
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	accepted, err := h.backfiller.Start(r.Context(), did, req.Force)
	switch {
	case errors.Is(err, repair.ErrBackfillDisabled):
		handlers.WriteError(w, http.StatusServiceUnavailable, "BackfillDisabled", "Backfill is disabled on this instance")
	case errors.Is(err, repair.ErrUnrepairable):
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Account cannot be backfilled")
	case err != nil:
		slog.Error("starting backfill failed", "did", did, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "Could not start backfill")
	case !accepted:
		handlers.WriteError(w, http.StatusTooManyRequests, "BackfillCooldown", "Backfill already ran recently, try again later")
	default:
		handlers.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "did": did})
	}
}
