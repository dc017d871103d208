// Package metrics provides Prometheus instrumentation for flagkit.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so a host can mount flagkit metrics on their own endpoint or merge
// them into its own registry.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matt-riley/flagkit/internal/core"
	"github.com/matt-riley/flagkit/internal/store"
)

// Metrics holds all Prometheus collectors used by flagkit.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal *prometheus.CounterVec
	StoreLoadsTotal  *prometheus.CounterVec
	StoreDefinitions *prometheus.GaugeVec
}

// New creates and registers all flagkit metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagkit_evaluations_total",
			Help: "Total number of flag evaluations by reason.",
		}, []string{"reason", "enabled"}),

		StoreLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagkit_store_loads_total",
			Help: "Total number of definition store load attempts by outcome.",
		}, []string{"store", "outcome"}),

		StoreDefinitions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flagkit_store_definitions",
			Help: "Number of definitions served by the store after its last load.",
		}, []string{"store"}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.StoreLoadsTotal,
		m.StoreDefinitions,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the evaluation counter for a decision.
func (m *Metrics) RecordEvaluation(reason core.Reason, enabled bool) {
	m.EvaluationsTotal.WithLabelValues(string(reason), strconv.FormatBool(enabled)).Inc()
}

// RecordStoreLoad counts a load attempt and updates the definitions gauge.
func (m *Metrics) RecordStoreLoad(storeName string, outcome store.LoadOutcome, definitions int) {
	m.StoreLoadsTotal.WithLabelValues(storeName, string(outcome)).Inc()
	m.StoreDefinitions.WithLabelValues(storeName).Set(float64(definitions))
}

// DecisionHook adapts RecordEvaluation for [core.WithDecisionHook].
func (m *Metrics) DecisionHook() core.DecisionHook {
	return func(_ string, decision core.Decision) {
		m.RecordEvaluation(decision.Reason, decision.Enabled)
	}
}

// LoadHook adapts RecordStoreLoad for [store.WithLoadHook].
func (m *Metrics) LoadHook(storeName string) store.LoadHook {
	return func(outcome store.LoadOutcome, definitions int) {
		m.RecordStoreLoad(storeName, outcome, definitions)
	}
}
