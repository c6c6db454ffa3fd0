// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BackendRequestDuration tracks upstream backend call duration.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_request_duration_seconds",
			Help:    "Upstream backend request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "outcome"},
	)

	// BackendRetriesTotal tracks network-failure retries against the backend.
	BackendRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backend_retries_total",
			Help: "Total backend request retries after network failures",
		},
	)

	// TokenRefreshesTotal tracks auth token refresh attempts.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total auth token refresh attempts",
		},
		[]string{"outcome"},
	)

	// BackendOffline indicates whether the backend is currently unreachable.
	BackendOffline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backend_offline",
			Help: "1 when the upstream backend is flagged unreachable, 0 otherwise",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_created_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages appended.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total chat messages appended",
		},
		[]string{"sender"},
	)

	// EvictionsTotal tracks capacity evictions in the history store.
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_evictions_total",
			Help: "Total capacity evictions in the chat history store",
		},
		[]string{"kind"},
	)

	// PersistenceFailuresTotal tracks failed history snapshot writes.
	PersistenceFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "history_persistence_failures_total",
			Help: "Total failed chat history snapshot writes",
		},
	)

	// LLMCompletionDuration tracks assistant reply generation duration.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBackendRequest records metrics for an upstream backend call.
func RecordBackendRequest(method, outcome string, duration float64) {
	BackendRequestDuration.WithLabelValues(method, outcome).Observe(duration)
}

// SetBackendOffline flips the backend availability gauge.
func SetBackendOffline(offline bool) {
	if offline {
		BackendOffline.Set(1)
		return
	}
	BackendOffline.Set(0)
}
