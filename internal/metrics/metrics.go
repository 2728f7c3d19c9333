// Package metrics records per-node latency histograms and per-agent token
// counters. Collectors are registered once per process on a dedicated
// registry so tests can construct isolated instances.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	nodeDuration *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec
	nodeErrors   *prometheus.CounterVec
}

// New builds a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.nodeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "datalens",
		Name:      "node_duration_seconds",
		Help:      "Wall-clock duration of pipeline node executions.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"node", "datasource_id"})

	m.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datalens",
		Name:      "llm_tokens_total",
		Help:      "LLM token usage by agent, model and token type.",
	}, []string{"agent", "model", "datasource_id", "type"})

	m.nodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "datalens",
		Name:      "node_errors_total",
		Help:      "Pipeline error records by node and code.",
	}, []string{"node", "error_code"})

	m.registry.MustRegister(m.nodeDuration, m.llmTokens, m.nodeErrors)
	return m
}

// Registry exposes the underlying registry for an exporter to scrape.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveNodeDuration records one node execution.
func (m *Metrics) ObserveNodeDuration(node, datasourceID string, d time.Duration) {
	if m == nil {
		return
	}
	m.nodeDuration.WithLabelValues(node, datasourceID).Observe(d.Seconds())
}

// TimeNode returns a stop function recording the elapsed time when called.
func (m *Metrics) TimeNode(node, datasourceID string) func() {
	start := time.Now()
	return func() { m.ObserveNodeDuration(node, datasourceID, time.Since(start)) }
}

// CountTokens records LLM token usage. Counts of zero are skipped.
func (m *Metrics) CountTokens(agent, model, datasourceID string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.llmTokens.WithLabelValues(agent, model, datasourceID, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.llmTokens.WithLabelValues(agent, model, datasourceID, "completion").Add(float64(completion))
	}
	if total := prompt + completion; total > 0 {
		m.llmTokens.WithLabelValues(agent, model, datasourceID, "total").Add(float64(total))
	}
}

// CountError records one pipeline error record.
func (m *Metrics) CountError(node, errorCode string) {
	if m == nil {
		return
	}
	m.nodeErrors.WithLabelValues(node, errorCode).Inc()
}
