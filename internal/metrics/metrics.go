// Package metrics exposes Harrier's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/harrier/internal/domain"
)

const namespace = "harrier"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	evaluations      prometheus.Counter
	decisions        *prometheus.CounterVec
	alertsCreated    *prometheus.CounterVec
	evaluationFaults *prometheus.CounterVec
	ruleHits         *prometheus.CounterVec
	latency          prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Events evaluated by the decision pipeline.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Fraud decisions by severity and action.",
		}, []string{"severity", "action"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Fraud alerts created by severity.",
		}, []string{"severity"}),
		evaluationFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_faults_total",
			Help:      "Rule conditions that could not be evaluated.",
		}, []string{"rule_id"}),
		ruleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_hits_total",
			Help:      "Rules matched by evaluated events.",
		}, []string{"rule_id"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "End-to-end evaluation latency.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	reg.MustRegister(
		m.evaluations,
		m.decisions,
		m.alertsCreated,
		m.evaluationFaults,
		m.ruleHits,
		m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDecision records one completed evaluation.
func (m *Metrics) ObserveDecision(d *domain.Decision, took time.Duration) {
	if m == nil || d == nil {
		return
	}
	m.evaluations.Inc()
	m.decisions.WithLabelValues(string(d.Severity), string(d.RecommendedAction)).Inc()
	m.latency.Observe(took.Seconds())
}

// ObserveAlertCreated implements alert.Observer.
func (m *Metrics) ObserveAlertCreated(severity domain.Severity) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(string(severity)).Inc()
}

// ObserveRuleHit implements rules.Observer.
func (m *Metrics) ObserveRuleHit(ruleID string) {
	if m == nil {
		return
	}
	m.ruleHits.WithLabelValues(ruleID).Inc()
}

// ObserveEvaluationFault implements rules.Observer.
func (m *Metrics) ObserveEvaluationFault(ruleID string) {
	if m == nil {
		return
	}
	m.evaluationFaults.WithLabelValues(ruleID).Inc()
}
