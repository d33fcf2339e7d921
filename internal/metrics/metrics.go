// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts reconciler runs by kind and outcome (success, failure, skipped).
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_sync_runs_total",
			Help: "Total number of collection synchronizations",
		},
		[]string{"kind", "outcome"},
	)

	// SyncRecords counts records touched by a run, by kind and action.
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_sync_records_total",
			Help: "Records uploaded, downloaded, overwritten, skipped or failed during sync",
		},
		[]string{"kind", "action"},
	)

	// SyncDuration observes how long a single collection sync takes.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowsync_sync_duration_seconds",
			Help:    "Collection synchronization duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"kind"},
	)

	// RetryAttempts counts retry executor attempts by outcome (success, failure, timeout).
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_retry_attempts_total",
			Help: "Remote operation attempts made by the retry executor",
		},
		[]string{"outcome"},
	)

	// RealtimeEvents counts change notifications received per kind.
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowsync_realtime_events_total",
			Help: "Change notifications received from the remote backend",
		},
		[]string{"kind"},
	)
)

// RecordSyncRun records the outcome and duration of one collection sync.
func RecordSyncRun(kind, outcome string, duration time.Duration) {
	SyncRuns.WithLabelValues(kind, outcome).Inc()
	SyncDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddSyncRecords adds n to the record counter unless n is zero.
func AddSyncRecords(kind, action string, n int) {
	if n == 0 {
		return
	}
	SyncRecords.WithLabelValues(kind, action).Add(float64(n))
}

// RecordRetryAttempt counts a single retry executor attempt.
func RecordRetryAttempt(outcome string) {
	RetryAttempts.WithLabelValues(outcome).Inc()
}

// RecordRealtimeEvent counts a change notification for kind.
func RecordRealtimeEvent(kind string) {
	RealtimeEvents.WithLabelValues(kind).Inc()
}
