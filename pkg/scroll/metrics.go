package scroll

import (
	"github.com/Sternrassler/scrollfeed/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchesTotal counts fetches issued by trigger ("start", "sentinel", "reload").
	fetchesTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollfeed_controller_fetches_total",
			Help: "Total page fetches issued by scroll controllers",
		},
		[]string{"trigger"},
	)

	// suppressedTotal counts triggers dropped by the guard.
	suppressedTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollfeed_controller_suppressed_triggers_total",
			Help: "Total sentinel triggers that did not start a fetch",
		},
		[]string{"reason"}, // "loading", "exhausted", "closed"
	)

	// pagesTotal counts applied fetch outcomes.
	pagesTotal = promauto.With(metrics.Registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrollfeed_controller_pages_total",
			Help: "Total fetch outcomes applied by scroll controllers",
		},
		[]string{"outcome"}, // "records", "empty", "failed"
	)

	// discardedTotal counts results dropped because their generation is stale.
	discardedTotal = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "scrollfeed_controller_discarded_results_total",
			Help: "Total fetch results discarded after a reload or close",
		},
	)

	// reloadsTotal counts reload transitions.
	reloadsTotal = promauto.With(metrics.Registry).NewCounter(
		prometheus.CounterOpts{
			Name: "scrollfeed_controller_reloads_total",
			Help: "Total scroll controller reloads",
		},
	)
)
