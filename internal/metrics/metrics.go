// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors for the resilience layer.
// All recording methods are safe on a nil receiver so components can be
// wired without metrics in tests.
type Metrics struct {
	probeResults    *prometheus.CounterVec
	failovers       *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	providerHealthy *prometheus.GaugeVec
	cacheLookups    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
}

// New registers the collectors against reg and returns the bundle.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		probeResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "probe_results_total",
			Help:      "Health probe outcomes per provider.",
		}, []string{"class", "provider", "result"}),
		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "failovers_total",
			Help:      "Failover advances to the next provider during execute.",
		}, []string{"class"}),
		exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "executions_exhausted_total",
			Help:      "Execute calls that failed on every provider of a class.",
		}, []string{"class"}),
		providerHealthy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bulwark",
			Name:      "provider_healthy",
			Help:      "Whether a provider's circuit is closed (1) or open (0).",
		}, []string{"class", "provider"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bulwark",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by outcome (hit_memory, hit_durable, miss, expired).",
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bulwark",
			Name:      "offline_queue_depth",
			Help:      "Operations currently waiting in the offline queue.",
		}),
	}
}

func (m *Metrics) ObserveProbe(class, provider string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.probeResults.WithLabelValues(class, provider, result).Inc()
}

func (m *Metrics) ObserveFailover(class string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(class).Inc()
}

func (m *Metrics) ObserveExhausted(class string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(class).Inc()
}

func (m *Metrics) SetProviderHealthy(class, provider string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.providerHealthy.WithLabelValues(class, provider).Set(v)
}

func (m *Metrics) ObserveCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
