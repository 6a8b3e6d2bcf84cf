package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"Skyview/internal/atproto/firehose"
	"Skyview/internal/eventlog"
	"Skyview/internal/metrics"
)

const (
	workerBatchSize = 50

	// claimInterval is how often a worker sweeps for messages another
	// consumer read but never acked; claimIdle is how long a message
	// must sit unacked before it is up for grabs.
	claimInterval = 30 * time.Second
	claimIdle     = 30 * time.Second

	// errorBackoff throttles the loop after a batch hit transient
	// failures so a broken dependency is not hammered.
	errorBackoff = 5 * time.Second
)

// Worker drains the durable event log through a Processor. Run several
// per replica: the consumer group hands each message to exactly one
// worker, and messages from dead workers are reclaimed after claimIdle.
//
// A message is acked only after processing succeeds or the event is
// classified malformed. Anything else stays pending and is redelivered,
// so a crash mid-batch loses no events.
type Worker struct {
	id       string
	log      eventlog.Log
	proc     *Processor
	counters *eventlog.Counters

	lastClaim time.Time
}

func NewWorker(id string, log eventlog.Log, proc *Processor, counters *eventlog.Counters) *Worker {
	return &Worker{id: id, log: log, proc: proc, counters: counters}
}

// Run consumes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("event worker starting", "consumer", w.id)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := w.log.Consume(ctx, w.id, workerBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("consuming events", "consumer", w.id, "error", err)
			wait(ctx, errorBackoff)
			continue
		}

		if time.Since(w.lastClaim) >= claimInterval {
			w.lastClaim = time.Now()
			claimed, err := w.log.ClaimPending(ctx, w.id, claimIdle, workerBatchSize)
			if err != nil {
				slog.Warn("claiming abandoned events", "consumer", w.id, "error", err)
			} else if len(claimed) > 0 {
				slog.Info("claimed abandoned events", "consumer", w.id, "count", len(claimed))
				msgs = append(msgs, claimed...)
			}
			if depth, err := w.log.Depth(ctx); err == nil {
				metrics.EventLogDepth.Set(float64(depth))
			}
		}

		hadError := false
		for _, msg := range msgs {
			if err := w.handle(ctx, msg); err != nil {
				hadError = true
			}
		}
		if hadError {
			wait(ctx, errorBackoff)
		}
	}
}

// handle applies one message. A non-nil return means the message was
// left unacked for redelivery.
func (w *Worker) handle(ctx context.Context, msg eventlog.Message) error {
	var event firehose.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		slog.Warn("dropping undecodable event payload", "id", msg.ID, "error", err)
		w.counters.IncError()
		metrics.EventsProcessed.WithLabelValues(msg.Kind, "malformed").Inc()
		w.ack(ctx, msg.ID)
		return nil
	}

	err := w.proc.Process(ctx, &event)
	switch {
	case err == nil:
		w.counters.IncEvent(msg.Kind)
		metrics.EventsProcessed.WithLabelValues(msg.Kind, "ok").Inc()
		if event.Seq > 0 {
			metrics.FirehoseCursor.WithLabelValues("processed").Set(float64(event.Seq))
		}
		w.ack(ctx, msg.ID)
		return nil
	case errors.Is(err, ErrMalformed):
		slog.Warn("dropping malformed event", "id", msg.ID, "seq", event.Seq, "error", err)
		w.counters.IncError()
		metrics.EventsProcessed.WithLabelValues(msg.Kind, "malformed").Inc()
		w.ack(ctx, msg.ID)
		return nil
	default:
		slog.Error("processing event failed, leaving for redelivery",
			"id", msg.ID, "seq", event.Seq, "error", err)
		w.counters.IncError()
		metrics.EventsProcessed.WithLabelValues(msg.Kind, "error").Inc()
		return err
	}
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.log.Ack(ctx, id); err != nil {
		slog.Warn("acking event failed", "id", id, "error", err)
	}
}

func wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
