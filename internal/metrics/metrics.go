// Package metrics exposes the Prometheus instrumentation for the occupancy
// core. Collectors are registered once at package init and served on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ReconcileBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_batches_total",
			Help: "Reconciliation batches processed, by outcome",
		},
		[]string{"outcome"},
	)

	TransitionsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cell_transitions_total",
			Help: "Applied cell state transitions, by new state",
		},
		[]string{"state"},
	)

	ChangeEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_published_total",
			Help: "Change events published to subscribers, by bridge mode",
		},
		[]string{"mode"},
	)

	FeedEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "change_feed_events_dropped_total",
			Help: "Change feed events dropped because the feed buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReconcileBatches,
		TransitionsApplied,
		ChangeEventsPublished,
		FeedEventsDropped,
	)
}
