// Package metrics holds the Prometheus instrumentation for the sync engine,
// poll driver and provider connectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Engine Metrics
	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_jobs_total",
			Help: "Total number of sync jobs by source and final status",
		},
		[]string{"source", "status"}, // status: success, partial, failed
	)

	SyncJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_job_duration_seconds",
			Help:    "Duration of sync jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	SyncSeriesSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_series_synced_total",
			Help: "Total number of series inserted or refreshed",
		},
		[]string{"source"},
	)

	SyncChaptersSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_chapters_synced_total",
			Help: "Total number of chapters newly inserted",
		},
		[]string{"source"},
	)

	SyncItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_item_errors_total",
			Help: "Total number of series or chapter items that failed to reconcile",
		},
		[]string{"source"},
	)

	SyncBackoffDelay = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_backoff_delay_seconds",
			Help: "Current backoff delay applied before the next job of a source",
		},
		[]string{"source"},
	)

	SyncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Number of sync jobs waiting in the engine queue",
		},
	)

	// Poll Driver Metrics
	SyncPollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_poll_cycles_total",
			Help: "Total number of poll cycles by outcome",
		},
		[]string{"outcome"}, // completed, skipped, error
	)

	// Connector Metrics
	ConnectorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_requests_total",
			Help: "Total number of provider requests by operation and outcome",
		},
		[]string{"provider", "op", "outcome"}, // outcome: success, error, timeout, rate_limited
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func sourceLabel(sourceID int64) string {
	return strconv.FormatInt(sourceID, 10)
}

// RecordSyncJob records the outcome of one sync job
func RecordSyncJob(sourceID int64, status string, seriesSynced, chaptersSynced, itemErrors int, duration time.Duration) {
	source := sourceLabel(sourceID)
	SyncJobsTotal.WithLabelValues(source, status).Inc()
	SyncJobDuration.WithLabelValues(source).Observe(duration.Seconds())
	SyncSeriesSynced.WithLabelValues(source).Add(float64(seriesSynced))
	SyncChaptersSynced.WithLabelValues(source).Add(float64(chaptersSynced))
	if itemErrors > 0 {
		SyncItemErrors.WithLabelValues(source).Add(float64(itemErrors))
	}
}

// SetBackoffDelay records the backoff currently applied to a source
func SetBackoffDelay(sourceID int64, delay time.Duration) {
	SyncBackoffDelay.WithLabelValues(sourceLabel(sourceID)).Set(delay.Seconds())
}

// SetQueueDepth records the engine queue length
func SetQueueDepth(depth int) {
	SyncQueueDepth.Set(float64(depth))
}

// RecordPollCycle records a poll cycle outcome
func RecordPollCycle(outcome string) {
	SyncPollCycles.WithLabelValues(outcome).Inc()
}

// RecordConnectorRequest records one provider request
func RecordConnectorRequest(provider, op, outcome string) {
	ConnectorRequests.WithLabelValues(provider, op, outcome).Inc()
}

// SetCircuitBreakerState records a breaker state (0=closed, 1=half-open, 2=open)
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}
