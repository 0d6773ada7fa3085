// Package metrics provides Prometheus collectors for the TTS gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tts_gateway"

var (
	// RequestsTotal counts synthesis requests by mode and result.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of synthesis requests",
		},
		[]string{"mode", "status"}, // status: success, error, cached
	)

	// RequestDuration is a histogram of end-to-end dispatch duration.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Histogram of synthesis dispatch duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode"},
	)

	// CacheLookupsTotal counts audio cache lookups by tier and result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of audio cache lookups",
		},
		[]string{"tier", "result"}, // tier: memory, remote; result: hit, miss
	)

	// RemoteCacheErrorsTotal counts swallowed remote cache tier failures.
	RemoteCacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_cache_errors_total",
			Help:      "Total number of best-effort remote cache failures",
		},
		[]string{"op"}, // op: read, write
	)

	// IdentityRotationsTotal counts identity rotation probe outcomes.
	IdentityRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_rotations_total",
			Help:      "Total number of identity rotation candidates by probe outcome",
		},
		[]string{"outcome"}, // ok, rate_limited, timed_out, host_unreachable
	)

	// PipelineRetriesTotal counts local pipeline retries after transient corruption.
	PipelineRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_retries_total",
			Help:      "Total number of local synthesis pipeline retries",
		},
	)
)

// allMetrics lists every collector exposed by this package.
var allMetrics = []prometheus.Collector{
	RequestsTotal,
	RequestDuration,
	CacheLookupsTotal,
	RemoteCacheErrorsTotal,
	IdentityRotationsTotal,
	PipelineRetriesTotal,
}

// NewRegistry returns a registry with all gateway metrics plus the standard
// Go runtime and process collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an HTTP handler serving the given registry in the
// Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
