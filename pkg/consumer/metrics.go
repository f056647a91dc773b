package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_entries_processed_total",
		Help: "Stream entries dispatched and acknowledged",
	})
	entriesReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_entries_reclaimed_total",
		Help: "Pending entries claimed from idle consumers",
	})
	dispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_dispatch_failures_total",
		Help: "Dispatch attempts that returned an error",
	})
	entriesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_entries_retried_total",
		Help: "Failed entries left pending for redelivery",
	})
	entriesDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_entries_dead_lettered_total",
		Help: "Entries moved to the dead-letter stream",
	})
	brokerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_broker_errors_total",
		Help: "Poll cycles aborted by a broker error",
	})
	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projector_dispatch_duration_seconds",
		Help:    "Time spent dispatching one entry",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)
