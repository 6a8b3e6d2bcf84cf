// Package status exposes the ingest pipeline's operational state as a
// single JSON document.
package status

import (
	"log/slog"
	"net/http"

	"Skyview/internal/api/handlers"
	"Skyview/internal/eventlog"
	"Skyview/internal/processor"
	"Skyview/internal/repair"
)

type Handler struct {
	status   *eventlog.StatusStore
	counters *eventlog.Counters
	log      eventlog.Log
	repair   *repair.Worker
	proc     *processor.Processor
}

func NewHandler(status *eventlog.StatusStore, counters *eventlog.Counters, log eventlog.Log, repairWorker *repair.Worker, proc *processor.Processor) *Handler {
	return &Handler{status: status, counters: counters, log: log, repair: repairWorker, proc: proc}
}

type pendingView struct {
	UserOps     int `json:"userOps"`
	CreationOps int `json:"creationOps"`
}

type statusView struct {
	Firehose   *eventlog.Status `json:"firehose"`
	QueueDepth int64            `json:"queueDepth"`
	Counters   map[string]int64 `json:"counters"`
	Pending    pendingView      `json:"pending"`
	Repair     repair.Stats     `json:"repair"`
}

// HandleGetStatus handles GET /api/firehose/status. Each section is
// collected best-effort so one sick dependency does not blank the rest.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := statusView{Repair: h.repair.Stats()}
	view.Pending.UserOps, view.Pending.CreationOps = h.proc.PendingOps()

	firehose, err := h.status.Read(ctx)
	if err != nil {
		slog.Warn("reading firehose status failed", "error", err)
	} else {
		view.Firehose = firehose
	}

	if depth, err := h.log.Depth(ctx); err != nil {
		slog.Warn("reading event log depth failed", "error", err)
	} else {
		view.QueueDepth = depth
	}

	counters, err := h.counters.Snapshot(ctx)
	if err != nil {
		slog.Warn("reading counters failed", "error", err)
	} else {
		view.Counters = counters
	}

	handlers.WriteJSON(w, http.StatusOK, view)
}
