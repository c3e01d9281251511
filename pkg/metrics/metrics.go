// Package metrics exposes Prometheus metrics for the mock engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts handled requests by method, path and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perturbd_requests_total",
			Help: "Total requests handled by the mock engine",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration tracks request handling time in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perturbd_request_duration_seconds",
			Help:    "Duration of mock request handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ChaosInjectionsTotal counts synthetic failures by status code.
	ChaosInjectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perturbd_chaos_injections_total",
			Help: "Total synthetic chaos failures injected",
		},
		[]string{"status"},
	)

	// ReplayHitsTotal counts requests answered from the replay log.
	ReplayHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perturbd_replay_hits_total",
			Help: "Total requests answered from the replay log",
		},
	)

	// ReplayMissesTotal counts replay lookups that found no item.
	ReplayMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "perturbd_replay_misses_total",
			Help: "Total replay lookups with no matching item",
		},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		RequestsTotal,
		RequestDuration,
		ChaosInjectionsTotal,
		ReplayHitsTotal,
		ReplayMissesTotal,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
