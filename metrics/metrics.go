// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytcollect_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Quota metrics
	QuotaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytcollect_quota_used_units",
			Help: "YouTube Data API quota units used in the current period",
		},
	)

	QuotaLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ytcollect_quota_limit_units",
			Help: "YouTube Data API quota ceiling",
		},
	)

	APICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_api_calls_total",
			Help: "Total number of YouTube Data API calls by operation",
		},
		[]string{"operation"},
	)

	// Pipeline metrics
	CollectionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_collection_runs_total",
			Help: "Total number of collection runs by outcome",
		},
		[]string{"outcome"},
	)

	CollectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ytcollect_collection_duration_seconds",
			Help:    "Duration of a full collection run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	VideosFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ytcollect_videos_fetched_total",
			Help: "Total number of videos fetched",
		},
	)

	CommentsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ytcollect_comments_fetched_total",
			Help: "Total number of comments fetched",
		},
	)

	StageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_stage_errors_total",
			Help: "Total number of pipeline stage failures by stage",
		},
		[]string{"stage"},
	)

	// Storage metrics
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_store_operations_total",
			Help: "Total number of store operations by backend and status",
		},
		[]string{"backend", "operation", "status"},
	)

	// NATS metrics
	NatsMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"subject"},
	)

	NatsMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_nats_messages_received_total",
			Help: "Total number of NATS messages received",
		},
		[]string{"subject"},
	)

	// Outbound HTTP metrics
	OutboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ytcollect_outbound_requests_total",
			Help: "Total number of outbound API requests",
		},
		[]string{"host", "status"},
	)

	OutboundRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ytcollect_outbound_request_duration_seconds",
			Help:    "Outbound API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ytcollect_circuit_state",
			Help: "Circuit breaker state per domain (0=closed, 1=half-open, 2=open)",
		},
		[]string{"domain"},
	)
)
