// Package metrics exposes the Prometheus instrumentation shared by the
// ingest pipeline, the search path and the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values used with Collector counters.
const (
	OutcomeIndexed      = "indexed"
	OutcomeFailed       = "failed"
	OutcomeDeduplicated = "deduplicated"

	CacheEmbedding = "embedding"
	CacheSearch    = "search"
)

// Collector bundles every metric the services emit.
type Collector struct {
	// Ingest pipeline
	IngestedDocuments *prometheus.CounterVec
	PointsUpserted    prometheus.Counter
	EmbeddedTokens    prometheus.Counter

	// Embedding provider
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Caches (embedding + search response)
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Search path
	SearchDuration *prometheus.HistogramVec

	// Worker
	TasksProcessed *prometheus.CounterVec
}

// NewCollector creates and registers the full metric set. A nil registerer
// targets the default Prometheus registry; tests pass their own.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		IngestedDocuments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_total",
				Help: "Documents that completed the ingest pipeline, by outcome",
			},
			[]string{"outcome"},
		),
		PointsUpserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vector_points_upserted_total",
				Help: "Vector points written to the vector store",
			},
		),
		EmbeddedTokens: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "embedding_tokens_total",
				Help: "Tokens billed by the embedding provider",
			},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_provider_calls_total",
				Help: "Calls issued to the embedding provider, by task",
			},
			[]string{"task"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "embedding_provider_latency_seconds",
				Help:    "Embedding provider round-trip latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"task"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_duration_seconds",
				Help:    "Hybrid search duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"cached"},
		),
		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_tasks_processed_total",
				Help: "Background tasks handled by the worker, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}

	reg.MustRegister(
		c.IngestedDocuments,
		c.PointsUpserted,
		c.EmbeddedTokens,
		c.ProviderCalls,
		c.ProviderLatency,
		c.CacheHits,
		c.CacheMisses,
		c.SearchDuration,
		c.TasksProcessed,
	)
	return c
}

// Handler serves the default registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}
