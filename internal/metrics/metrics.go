package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes pipeline instrumentation on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	Decisions   *prometheus.CounterVec
	RuleMatches *prometheus.CounterVec
	Duration    prometheus.Histogram
}

// New creates and registers the warden metric set
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Pipeline decisions by outcome.",
		}, []string{"outcome"}),
		RuleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rule_matches_total",
			Help: "Pattern rule matches by rule id.",
		}, []string{"rule_id"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_pipeline_duration_seconds",
			Help:    "End-to-end pipeline processing time.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.Decisions, m.RuleMatches, m.Duration)
	return m
}

// Handler serves the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
