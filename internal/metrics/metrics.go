// CycleSync - Distributor Replica Synchronization Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cyclesync

// Package metrics holds the Prometheus instrumentation for CycleSync.
// All collectors register with the default registry through promauto and
// are exported by the /metrics endpoint.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cyclesync"

var (
	// Ingestion pipeline

	EnvelopesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Signed envelopes received from the push transport",
		},
		[]string{"source"}, // "ws", "mq"
	)

	EnvelopesAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_accepted_total",
			Help:      "Envelopes that passed validation, by payload kind",
		},
		[]string{"kind"},
	)

	EnvelopesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_rejected_total",
			Help:      "Envelopes rejected by validation, by reason",
		},
		[]string{"reason"},
	)

	RecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Records written to storage",
		},
		[]string{"kind", "path"}, // path: "push", "trusted"
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Records skipped before storage",
		},
		[]string{"kind", "reason"}, // reason: "duplicate", "invalid", "unchanged"
	)

	CycleWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_writes_total",
			Help:      "Cycle upserts by outcome",
		},
		[]string{"result"}, // "inserted", "updated", "unchanged"
	)

	// Dedup cache

	DedupCacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_cache_entries",
			Help:      "Current number of dedup cache entries",
		},
		[]string{"kind"},
	)

	DedupCacheSwept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_cache_swept_total",
			Help:      "Entries removed from the dedup cache by horizon sweeps",
		},
		[]string{"kind"},
	)

	// Sync cursor and reconciliation

	SyncRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rounds_total",
			Help:      "Reconciliation rounds by result",
		},
		[]string{"result"}, // "success", "failed"
	)

	SyncRoundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_round_duration_seconds",
			Help:      "Duration of reconciliation rounds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncLastCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_synced_cycle",
			Help:      "Last cycle the sync cursor has reconciled",
		},
	)

	SyncObservedCycle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_observed_cycle",
			Help:      "Newest cycle counter observed from the distributor",
		},
	)

	ReconcileMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_mismatches_total",
			Help:      "Per-cycle count mismatches detected",
		},
		[]string{"kind"},
	)

	RepairResidualCycles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repair_residual_cycles",
			Help:      "Cycles still short after targeted repair, pending a later check",
		},
		[]string{"kind"},
	)

	BackfillRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_records_total",
			Help:      "Records fetched by backfill, by kind and mode",
		},
		[]string{"kind", "mode"}, // mode: "bulk", "genesis", "repair", "range"
	)

	// Distributor client

	DistributorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_requests_total",
			Help:      "Distributor API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	DistributorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "distributor_request_duration_seconds",
			Help:      "Distributor API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	ListenerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "push_listener_connected",
			Help:      "1 while the push websocket is connected",
		},
	)

	ListenerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_listener_reconnects_total",
			Help:      "Push websocket reconnect attempts",
		},
	)

	// Audit log

	AuditLogAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_log_appends_total",
			Help:      "Payload lines written to the audit log",
		},
		[]string{"kind"},
	)

	AuditLogDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_log_dropped_total",
			Help:      "Audit lines dropped because the write buffer was full",
		},
	)

	// Storage

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duckdb_query_duration_seconds",
			Help:      "Duration of DuckDB statements",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duckdb_query_errors_total",
			Help:      "DuckDB statement failures",
		},
		[]string{"operation", "table"},
	)

	// Downstream forwarding and operational API

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_subscribers",
			Help:      "Downstream websocket subscribers",
		},
	)

	WSMessagesForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_forwarded_total",
			Help:      "Envelopes forwarded to downstream subscribers",
		},
		[]string{"event"},
	)

	NATSMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_messages_total",
			Help:      "JetStream messages handled by result",
		},
		[]string{"result"}, // "acked", "nacked"
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Operational API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Operational API latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordDBQuery observes a storage statement.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordDistributorRequest observes one distributor HTTP call. status 0 means
// the request never got a response.
func RecordDistributorRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	DistributorRequests.WithLabelValues(endpoint, label).Inc()
	DistributorRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSyncRound observes a finished reconciliation round.
func RecordSyncRound(duration time.Duration, err error) {
	SyncRoundDuration.Observe(duration.Seconds())
	if err != nil {
		SyncRounds.WithLabelValues("failed").Inc()
		return
	}
	SyncRounds.WithLabelValues("success").Inc()
}

// RecordAPIRequest observes an operational API request.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// BreakerStateValue maps a breaker state name to the gauge encoding.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
