// Package metrics exposes counters for the delegation pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rentman"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the default one.
type Metrics struct {
	Registry *prometheus.Registry

	Webhooks         *prometheus.CounterVec
	WebhookFailures  *prometheus.CounterVec
	AIOutcomes       *prometheus.CounterVec
	EscrowOps        *prometheus.CounterVec
	TransferFailures prometheus.Counter
	TaskTransitions  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Inbound webhook deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		WebhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_processing_failures_total",
			Help:      "Webhook deliveries that were acknowledged but failed to process.",
		}, []string{"channel"}),
		AIOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_outcomes_total",
			Help:      "Model calls by use and outcome.",
		}, []string{"use", "outcome"}),
		EscrowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_operations_total",
			Help:      "Escrow operations by kind and result.",
		}, []string{"op", "result"}),
		TransferFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transfer_failures_total",
			Help:      "Payouts that failed after the hold was captured.",
		}),
		TaskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"to"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Webhooks,
		m.WebhookFailures,
		m.AIOutcomes,
		m.EscrowOps,
		m.TransferFailures,
		m.TaskTransitions,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *Metrics) Webhook(channel, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) WebhookFailed(channel string) {
	if m == nil {
		return
	}
	m.WebhookFailures.WithLabelValues(channel).Inc()
}

func (m *Metrics) AI(use, outcome string) {
	if m == nil {
		return
	}
	m.AIOutcomes.WithLabelValues(use, outcome).Inc()
}

func (m *Metrics) Escrow(op, result string) {
	if m == nil {
		return
	}
	m.EscrowOps.WithLabelValues(op, result).Inc()
}

func (m *Metrics) TransferFailed() {
	if m == nil {
		return
	}
	m.TransferFailures.Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(to).Inc()
}
