// Package metrics exposes prometheus instrumentation for the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the scheduler's prometheus collectors.
type Metrics struct {
	PublishedTotal  prometheus.Counter
	FailedTotal     prometheus.Counter
	PastDueTotal    prometheus.Counter
	StaleRecovered  prometheus.Counter
	DuplicatesTotal prometheus.Counter
	TickDuration    prometheus.Histogram
}

// New registers the scheduler collectors with the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_posts_published_total",
			Help: "Posts successfully published to the external platform.",
		}),
		FailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_posts_failed_total",
			Help: "Posts whose publish attempt failed.",
		}),
		PastDueTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_posts_past_due_total",
			Help: "Posts flagged past due after missing the polling window.",
		}),
		StaleRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_stale_claims_recovered_total",
			Help: "Publishing claims reset after a crashed worker.",
		}),
		DuplicatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_duplicates_rejected_total",
			Help: "Submissions rejected by the duplicate guard.",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_tick_duration_seconds",
			Help:    "Wall time of one poller tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
