package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projector_events_applied_total",
		Help: "Events applied to the search projection",
	}, []string{"type"})
	duplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_duplicates_skipped_total",
		Help: "Envelopes skipped because their id was already processed",
	})
	unknownEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projector_unknown_events_total",
		Help: "Envelopes with a type the projector does not handle",
	})
)
