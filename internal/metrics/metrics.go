// Package metrics provides Prometheus instrumentation for mediaflow.
//
// All metrics are prefixed with "mediaflow_". They are grouped into:
//   - HTTP: request counts, durations and in-flight requests
//   - Pipeline: runs started, finished by outcome, cancelled, active, and durations
//   - Fan-out: events published and dropped, active subscribers
//   - Streaming: bytes sent by the range media server
//
// Collectors are registered with the default registry at init, so the
// standard promhttp handler exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaflow_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Pipeline metrics
var (
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_runs_started_total",
			Help: "Total number of processing runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_runs_completed_total",
			Help: "Total number of processing runs that reached a terminal state",
		},
		[]string{"outcome"}, // "safe", "flagged", "failed"
	)

	RunsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaflow_pipeline_runs_cancelled_total",
			Help: "Total number of processing runs cancelled before completion",
		},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaflow_pipeline_runs_active",
			Help: "Number of processing runs currently active",
		},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaflow_pipeline_run_duration_seconds",
			Help:    "Wall time from run start to terminal state",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediaflow_pipeline_extraction_duration_seconds",
			Help:    "Time spent extracting frames from a media object",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// Fan-out metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_fanout_events_published_total",
			Help: "Total number of events published, by event name",
		},
		[]string{"event"},
	)

	EventDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_fanout_event_deliveries_total",
			Help: "Total number of events enqueued for subscribers, by event name",
		},
		[]string{"event"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaflow_fanout_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers, by event name",
		},
		[]string{"event"},
	)

	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediaflow_fanout_subscribers_active",
			Help: "Number of connected real-time subscribers",
		},
	)
)

// Streaming metrics
var (
	StreamedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediaflow_stream_bytes_total",
			Help: "Total number of media bytes sent by the range server",
		},
	)
)

// AddStreamedBytes records n bytes sent to a client.
func AddStreamedBytes(n int64) {
	if n > 0 {
		StreamedBytes.Add(float64(n))
	}
}
