package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	operationsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "operations_processed_total",
			Help:      "Queued operations processed, by final result of the attempt.",
		},
		[]string{"result"},
	)

	operationRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "operation_retries_total",
			Help:      "Retry attempts scheduled for failed operations.",
		},
	)

	conflictsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "conflicts_resolved_total",
			Help:      "Conflicts resolved during parcel sync, by strategy.",
		},
		[]string{"strategy"},
	)

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "sync_passes_total",
			Help:      "Full queue passes, by outcome.",
		},
		[]string{"outcome"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fieldsync",
			Name:      "queue_depth",
			Help:      "Operations currently held in the sync queue.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			operationsProcessed,
			operationRetries,
			conflictsResolved,
			syncPasses,
			queueDepth,
		)
	})
}

// IncOperation counts a processed operation by result
// (completed, retrying, failed).
func IncOperation(result string) {
	operationsProcessed.WithLabelValues(result).Inc()
}

// IncRetry counts a scheduled retry attempt.
func IncRetry() {
	operationRetries.Inc()
}

// IncConflict counts a resolved conflict by strategy label.
func IncConflict(strategy string) {
	conflictsResolved.WithLabelValues(strategy).Inc()
}

// IncSyncPass counts a queue pass by outcome (completed, partial, skipped).
func IncSyncPass(outcome string) {
	syncPasses.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}
