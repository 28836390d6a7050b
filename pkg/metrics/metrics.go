// Package metrics is the reference for scrollfeed's Prometheus metrics.
// Metrics are defined in the packages that record them (client, ratelimit,
// scroll) and registered through promauto on Registry; this package owns
// that registry and an HTTP handler for it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every scrollfeed metric plus the Go runtime and process
// collectors.
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Metrics Documentation
//
// Page Loader Metrics (pkg/client):
//   - scrollfeed_page_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - scrollfeed_page_request_duration_seconds{endpoint} (Histogram): Request duration
//   - scrollfeed_page_errors_total{class} (Counter): Failures by class (client, server, rate_limit, network, decode)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - scrollfeed_rate_limit_remaining{host} (Gauge): Requests left in the upstream window
//   - scrollfeed_rate_limit_blocks_total{host} (Counter): Fetches blocked locally
//   - scrollfeed_rate_limit_throttles_total{host} (Counter): Fetches delayed locally
//
// Controller Metrics (pkg/scroll):
//   - scrollfeed_controller_fetches_total{trigger} (Counter): Fetches by trigger (start, sentinel, reload)
//   - scrollfeed_controller_suppressed_triggers_total{reason} (Counter): Triggers dropped (loading, exhausted, closed)
//   - scrollfeed_controller_pages_total{outcome} (Counter): Outcomes applied (records, empty, failed)
//   - scrollfeed_controller_discarded_results_total (Counter): Late results dropped after reload or close
//   - scrollfeed_controller_reloads_total (Counter): Reloads
//
// Example Prometheus Queries:
//
//   # Share of sentinel triggers absorbed by the in-flight guard
//   rate(scrollfeed_controller_suppressed_triggers_total{reason="loading"}[5m]) /
//   rate(scrollfeed_controller_fetches_total{trigger="sentinel"}[5m])
//
//   # Fetch failure rate
//   rate(scrollfeed_controller_pages_total{outcome="failed"}[5m])
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(scrollfeed_page_request_duration_seconds_bucket[5m]))
