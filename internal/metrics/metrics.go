// Package metrics holds the process-wide Prometheus collectors. They
// are registered at import time and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FirehoseCursor tracks the relay sequence at each pipeline stage
	// ("ingested" when pushed to the log, "processed" after ack).
	FirehoseCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "firehose_cursor",
		Help: "Last relay sequence number seen, by pipeline stage.",
	}, []string{"stage"})

	// EventsProcessed counts events handled by workers, by kind and outcome.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_events_processed_total",
		Help: "Firehose events processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// RecordOps counts record writes by collection and action.
	RecordOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_record_ops_total",
		Help: "Record operations applied to storage, by collection and action.",
	}, []string{"collection", "action"})

	// ResolverLookups counts identity cache lookups by cache and outcome.
	ResolverLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_resolver_lookups_total",
		Help: "Identity resolver cache lookups, by cache and outcome.",
	}, []string{"cache", "outcome"})

	// RepairQueueDepth tracks incomplete entries awaiting repair, by type.
	RepairQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "appview_repair_queue_depth",
		Help: "Incomplete records awaiting repair, by record type.",
	}, []string{"type"})

	// RepairOps counts repair attempts by type and outcome.
	RepairOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_repair_ops_total",
		Help: "Repair attempts, by record type and outcome.",
	}, []string{"type", "outcome"})

	// EventLogDepth tracks the durable log backlog.
	EventLogDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "appview_event_log_depth",
		Help: "Entries currently in the durable event log.",
	})

	// ProxiedRequests counts XRPC calls forwarded upstream, by method
	// and status class.
	ProxiedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "appview_proxied_requests_total",
		Help: "XRPC requests proxied to PDS hosts, by method and status class.",
	}, []string{"method", "status"})
)
