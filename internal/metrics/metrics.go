// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

// Package metrics holds the Prometheus collectors for Soilsense: location store
// queries, HTTP endpoints, the datahub feed, the login circuit breaker and the
// live reading broadcast.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasons a feed reading never reaches the store.
const (
	DropMissingTimestamp  = "missing_timestamp"
	DropMissingCoordinate = "missing_coordinate"
	DropPersistFailed     = "persist_failed"
)

var (
	// Store Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soilsense_store_query_duration_seconds",
			Help:    "Duration of location store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_store_query_errors_total",
			Help: "Total number of location store errors",
		},
		[]string{"backend", "operation"},
	)

	DBUpsertRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_store_upsert_retries_total",
			Help: "Upsert attempts retried after a write conflict",
		},
		[]string{"backend"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "soilsense_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soilsense_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	// Datahub Feed Metrics
	FeedState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soilsense_feed_state",
			Help: "Feed subscriber state (0=disconnected, 1=authenticating, 2=connected)",
		},
	)

	FeedConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_feed_connect_attempts_total",
			Help: "Feed connection attempts by outcome",
		},
		[]string{"result"}, // "connected", "auth_failed", "dial_failed", "subscribe_failed"
	)

	FeedFramesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soilsense_feed_frames_received_total",
			Help: "Frames read from the datahub feed",
		},
	)

	FeedFramesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_feed_frames_discarded_total",
			Help: "Frames discarded without producing readings",
		},
		[]string{"reason"}, // "parse_error", "empty"
	)

	FeedRecordsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soilsense_feed_records_stored_total",
			Help: "Aggregated records persisted from the feed",
		},
	)

	FeedRecordsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_feed_records_dropped_total",
			Help: "Readings or aggregated records dropped during ingestion",
		},
		[]string{"reason"},
	)

	FeedTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_feed_token_refreshes_total",
			Help: "Datahub login exchanges by outcome",
		},
		[]string{"result"}, // "success", "failure"
	)

	MirrorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_mirror_writes_total",
			Help: "Points written to the time-series mirror by outcome",
		},
		[]string{"result"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "soilsense_websocket_connections",
			Help: "Current number of live reading subscribers",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "soilsense_websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soilsense_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "soilsense_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "soilsense_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

// RecordDBQuery records a location store operation.
func RecordDBQuery(backend, operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordFeedDrop counts a dropped reading or record.
func RecordFeedDrop(reason string, n int) {
	if n <= 0 {
		return
	}
	FeedRecordsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordTokenRefresh counts a datahub login exchange.
func RecordTokenRefresh(err error) {
	if err != nil {
		FeedTokenRefreshes.WithLabelValues("failure").Inc()
		return
	}
	FeedTokenRefreshes.WithLabelValues("success").Inc()
}

// RecordMirrorWrite counts a time-series mirror write.
func RecordMirrorWrite(err error) {
	if err != nil {
		MirrorWrites.WithLabelValues("failure").Inc()
		return
	}
	MirrorWrites.WithLabelValues("success").Inc()
}
