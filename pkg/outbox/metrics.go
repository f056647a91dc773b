package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "outbox_events_relayed_total",
		Help: "Outbox rows published and marked sent",
	})
	relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relay_failures_total",
		Help: "Outbox rows whose dispatch failed",
	}, []string{"final"})
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Rows claimed per relay tick",
		Buckets: prometheus.LinearBuckets(0, 20, 6),
	})
)
