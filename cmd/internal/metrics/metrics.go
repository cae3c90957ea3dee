// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_http_request_duration_seconds",
			Help:    "HTTP request duration (time to last byte, streams included)",
			Buckets: []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Authorization outcomes, labelled by error code or "ok".
	AuthorizeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_authorize_total",
			Help: "Chat authorization decisions",
		},
		[]string{"outcome"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"route"},
	)

	// Streaming
	TurnsStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_turns_total",
			Help: "Streamed turns by model alias and result (finished, failed, upstream_error)",
		},
		[]string{"model", "result"},
	)

	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_tokens_total",
			Help: "Provider-reported tokens by model alias",
		},
		[]string{"model"},
	)

	// Persistence
	PersistResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_persist_total",
			Help: "Finished-turn persistence results (ok, failed, dropped, usage_failed)",
		},
		[]string{"result"},
	)

	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_persist_queue_depth",
			Help: "Finished turns waiting to be persisted",
		},
	)

	SharesIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_shares_issued_total",
			Help: "Share tokens issued",
		},
	)
)
