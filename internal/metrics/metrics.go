// Package metrics holds the Prometheus collectors for ingestion runs and upstream traffic.
//
// Collectors register with the default registry on package load and are
// exported by the `/metrics` handler of `replay serve`.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// Outcome labels for [UserRuns].
const (
	OutcomeSuccess  = "success"
	OutcomeUnlinked = "unlinked"
	OutcomeError    = "error"
)

var (
	// Batch runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_ingest_runs_total",
			Help: "Total number of batch ingestion runs",
		},
		[]string{"status"}, // "completed", "failed"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replay_ingest_run_duration_seconds",
			Help:    "Duration of batch ingestion runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	// Per-user pipelines
	UserRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_user_runs_total",
			Help: "Total number of per-user pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	UserRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_user_retries_total",
			Help: "Total number of per-user pipeline retries",
		},
	)

	ListensIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_listens_ingested_total",
			Help: "Total number of listen events written",
		},
	)

	// Upstream
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"endpoint", "status_code"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_upstream_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "replay_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Writer
	WriterFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_writer_flushes_total",
			Help: "Total number of buffered writer flushes",
		},
		[]string{"status"}, // "ok", "error"
	)

	ListensPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "replay_listens_purged_total",
			Help: "Total number of expired listens deleted",
		},
	)
)

// RecordRun records a finished batch run.
func RecordRun(duration time.Duration, err error) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordUserRun records the outcome of one per-user pipeline and the listens it wrote.
func RecordUserRun(outcome string, listens int) {
	UserRuns.WithLabelValues(outcome).Inc()
	if listens > 0 {
		ListensIngested.Add(float64(listens))
	}
}

// RecordUpstreamRequest records one upstream call; status 0 means the request never got a response.
func RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	UpstreamRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	UpstreamDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordFlush records a writer flush.
func RecordFlush(err error) {
	if err != nil {
		WriterFlushes.WithLabelValues("error").Inc()
		return
	}
	WriterFlushes.WithLabelValues("ok").Inc()
}

// RecordBreakerTransition updates the breaker gauges when name moves between states.
func RecordBreakerTransition(name string, from, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(BreakerStateValue(to))
	CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// BreakerStateValue converts a breaker state to its gauge value.
func BreakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
