// Package metrics exposes the Prometheus instrumentation for the analysis
// service and the HTTP transport.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the application registers. A single
// instance is created at startup and shared by the service and transport
// layers.
type Metrics struct {
	registry *prometheus.Registry

	AnalysisRuns     *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	RowsProcessed    prometheus.Counter
	IssuesFound      *prometheus.CounterVec
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AnalysisRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "analysis_runs_total",
			Help:      "Completed analysis runs by outcome.",
		}, []string{"status"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "costwatch",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one full analysis run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "rows_processed_total",
			Help:      "Ledger rows pushed through the pipeline.",
		}),
		IssuesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "issues_found_total",
			Help:      "Classified issues by type.",
		}, []string{"issue_type"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "result_cache_hits_total",
			Help:      "Analysis requests answered from the result cache.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "result_cache_misses_total",
			Help:      "Analysis requests that required a fresh run.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "costwatch",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status class.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "costwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records one finished analysis run.
func (m *Metrics) ObserveRun(status string, seconds float64, rows int, issueCounts map[string]int) {
	m.AnalysisRuns.WithLabelValues(status).Inc()
	m.AnalysisDuration.Observe(seconds)
	m.RowsProcessed.Add(float64(rows))
	for issueType, n := range issueCounts {
		m.IssuesFound.WithLabelValues(issueType).Add(float64(n))
	}
}
