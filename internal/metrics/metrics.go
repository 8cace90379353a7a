// Package metrics holds the Prometheus collectors for the invoice session service.
// All methods are safe on a nil *Metrics, which disables recording.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invoice"

// Metrics is a private registry plus the collectors recorded by the service.
type Metrics struct {
	registry           *prometheus.Registry
	extractionAttempts *prometheus.CounterVec
	toolCalls          *prometheus.CounterVec
	chatAnswers        *prometheus.CounterVec
	storeOperations    *prometheus.CounterVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		extractionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_attempts_total",
			Help:      "Extraction attempts by tier and outcome.",
		}, []string{"tier", "outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations requested by the chat model.",
		}, []string{"tool", "outcome"}),
		chatAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_answers_total",
			Help:      "Answers produced, by conversation mode.",
		}, []string{"mode"}),
		storeOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_store_operations_total",
			Help:      "Session store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
	}
	m.registry.MustRegister(m.extractionAttempts, m.toolCalls, m.chatAnswers, m.storeOperations)
	return m
}

// RegisterSessionGauge exposes the live session count through count.
func (m *Metrics) RegisterSessionGauge(count func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live sessions in the store.",
	}, func() float64 { return float64(count()) }))
}

// Extraction records one tier attempt.
func (m *Metrics) Extraction(tier, outcome string) {
	if m == nil {
		return
	}
	m.extractionAttempts.WithLabelValues(tier, outcome).Inc()
}

// ToolCall records one dispatched tool call.
func (m *Metrics) ToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

// ChatAnswer records one produced answer.
func (m *Metrics) ChatAnswer(mode string) {
	if m == nil {
		return
	}
	m.chatAnswers.WithLabelValues(mode).Inc()
}

// StoreOperation records one session store operation.
func (m *Metrics) StoreOperation(op, outcome string) {
	if m == nil {
		return
	}
	m.storeOperations.WithLabelValues(op, outcome).Inc()
}

// Gatherer exposes the registry, mainly for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
