package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	memoryWriteDuration  prometheus.Histogram
	memorySearchDuration prometheus.Histogram
	memoryEntriesTotal   prometheus.Gauge

	ingestChunksTotal prometheus.Counter
	ingestDuration    prometheus.Histogram

	recoveryEntriesTotal prometheus.Counter
	recoverySkippedTotal prometheus.Counter
	recoveryDuration     prometheus.Histogram
	inconsistencyTotal   prometheus.Counter
	serviceAvailable     prometheus.Gauge

	embeddingDuration *prometheus.HistogramVec
	embeddingErrors   prometheus.Counter

	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_write_duration_seconds",
					Help:    "Memory create/delete duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total memory entries held in the in-memory index.",
				},
			),
			ingestChunksTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "ingest_chunks_total",
					Help: "Total chunks produced by document ingestion.",
				},
			),
			ingestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ingest_duration_seconds",
					Help:    "Document ingestion duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			recoveryEntriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "recovery_entries_total",
					Help: "Total entries loaded into the index by recovery rebuilds.",
				},
			),
			recoverySkippedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "recovery_skipped_total",
					Help: "Total malformed entries skipped by recovery rebuilds.",
				},
			),
			recoveryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "recovery_duration_seconds",
					Help:    "Index rebuild duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			inconsistencyTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "consistency_drift_total",
					Help: "Total index/store count mismatches detected by sweeps.",
				},
			),
			serviceAvailable: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "service_available",
					Help: "Write availability state (1 available, 0 degraded).",
				},
			),
			embeddingDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "embedding_duration_seconds",
					Help:    "Embedding provider call duration in seconds by purpose.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"purpose"},
			),
			embeddingErrors: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_errors_total",
					Help: "Total embedding provider failures.",
				},
			),
			httpRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "http_requests_total",
					Help: "Total HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "http_request_duration_seconds",
					Help:    "HTTP request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent chat turns by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent chat turn duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.memoryWriteDuration,
			m.memorySearchDuration,
			m.memoryEntriesTotal,
			m.ingestChunksTotal,
			m.ingestDuration,
			m.recoveryEntriesTotal,
			m.recoverySkippedTotal,
			m.recoveryDuration,
			m.inconsistencyTotal,
			m.serviceAvailable,
			m.embeddingDuration,
			m.embeddingErrors,
			m.httpRequestTotal,
			m.httpRequestDuration,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordMemoryWrite(duration time.Duration) {
	m := getMetrics()
	m.memoryWriteDuration.Observe(duration.Seconds())
}

func RecordMemorySearch(duration time.Duration) {
	m := getMetrics()
	m.memorySearchDuration.Observe(duration.Seconds())
}

func SetMemoryEntries(total int) {
	m := getMetrics()
	m.memoryEntriesTotal.Set(float64(total))
}

func RecordIngest(chunks int, duration time.Duration) {
	m := getMetrics()
	m.ingestChunksTotal.Add(float64(chunks))
	m.ingestDuration.Observe(duration.Seconds())
}

func RecordRecovery(entries, skipped int, duration time.Duration) {
	m := getMetrics()
	m.recoveryEntriesTotal.Add(float64(entries))
	m.recoverySkippedTotal.Add(float64(skipped))
	m.recoveryDuration.Observe(duration.Seconds())
}

func RecordInconsistency() {
	m := getMetrics()
	m.inconsistencyTotal.Inc()
}

func SetServiceAvailable(available bool) {
	m := getMetrics()
	value := 0.0
	if available {
		value = 1.0
	}
	m.serviceAvailable.Set(value)
}

func RecordEmbedding(purpose string, duration time.Duration, success bool) {
	m := getMetrics()
	m.embeddingDuration.WithLabelValues(purpose).Observe(duration.Seconds())
	if !success {
		m.embeddingErrors.Inc()
	}
}

func RecordHTTPRequest(route, code string, duration time.Duration) {
	m := getMetrics()
	m.httpRequestTotal.WithLabelValues(route, code).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}
