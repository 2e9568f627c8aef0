// Package metrics is the process-wide metrics accumulator. Counters are
// registered once on a private registry; aggregation is external.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	RebuildsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ariadne_rebuilds_total",
		Help: "Rebuilds by mode and outcome.",
	}, []string{"mode", "outcome"})

	SummariesRegenerated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ariadne_summaries_regenerated_total",
		Help: "Summaries regenerated by the incremental pipeline.",
	})

	LLMCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ariadne_llm_calls_total",
		Help: "LLM calls by outcome.",
	}, []string{"outcome"})

	OrphansRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ariadne_vector_orphans_recovered_total",
		Help: "Orphaned vector-plane records cleaned by reconciliation.",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ariadne_http_requests_total",
		Help: "HTTP requests by route and status class.",
	}, []string{"route", "status"})

	TraversalDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ariadne_traversal_duration_seconds",
		Help:    "Recursive graph traversal latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		RebuildsTotal,
		SummariesRegenerated,
		LLMCalls,
		OrphansRecovered,
		HTTPRequests,
		TraversalDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
