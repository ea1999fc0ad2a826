// Package triggermetrics holds the Prometheus instrumentation recorded
// by the ChangeMonitor.
package triggermetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the histogram buckets used for every duration
// metric in this package, spanning a single polling tick up through a
// fully stuck handler.
var LatencyBuckets = []float64{
	.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120,
}

// TableLabels identifies the user table a metric pertains to.
var TableLabels = []string{"table"}

var (
	// PollDurations records how long each polling tick's
	// acquire-changes transaction took.
	PollDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trigger_poll_duration_seconds",
		Help:    "the length of time a polling tick's acquire-changes transaction took",
		Buckets: LatencyBuckets,
	}, TableLabels)

	// BatchRows counts the rows delivered to the executor.
	BatchRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_batch_rows_total",
		Help: "the number of rows delivered to the executor",
	}, TableLabels)

	// LeaseAcquireErrors counts failures during the acquire-changes
	// transaction.
	LeaseAcquireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_lease_acquire_errors_total",
		Help: "the number of times an error was encountered while acquiring leases",
	}, TableLabels)

	// LeaseRenewals counts lease-renewal ticks that ran while a batch
	// was in flight, whether or not the renewal succeeded.
	LeaseRenewals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_lease_renewals_total",
		Help: "the number of lease renewal attempts for the in-flight batch",
	}, TableLabels)

	// StuckHandlerCancellations counts times the executor was
	// forcibly cancelled for exceeding MaxLeaseRenewalCount.
	StuckHandlerCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_stuck_handler_cancellations_total",
		Help: "the number of times a handler was cancelled for being stuck",
	}, TableLabels)

	// ReleaseErrors counts failures during the release/advance
	// transaction.
	ReleaseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trigger_release_errors_total",
		Help: "the number of times an error was encountered while releasing a batch",
	}, TableLabels)

	// LastSyncVersion reports the LastSyncVersion this instance most
	// recently advanced the table to during release.
	LastSyncVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trigger_last_sync_version",
		Help: "the last sync version this instance advanced the table to",
	}, TableLabels)
)
