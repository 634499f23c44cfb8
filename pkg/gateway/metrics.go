package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the gateway's Prometheus collectors.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	GuardrailErrors prometheus.Counter
	GuardrailTime   prometheus.Histogram
}

// NewMetrics registers the gateway collectors on reg. Pass
// prometheus.DefaultRegisterer outside tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpscan",
			Subsystem: "gateway",
			Name:      "decisions_total",
			Help:      "Validation decisions by outcome and source.",
		}, []string{"outcome", "source"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpscan",
			Subsystem: "gateway",
			Name:      "cache_hits_total",
			Help:      "Validation cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpscan",
			Subsystem: "gateway",
			Name:      "cache_misses_total",
			Help:      "Validation cache misses.",
		}),
		GuardrailErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcpscan",
			Subsystem: "gateway",
			Name:      "guardrail_errors_total",
			Help:      "Guardrail calls resolved by the availability policy.",
		}),
		GuardrailTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mcpscan",
			Subsystem: "gateway",
			Name:      "guardrail_duration_seconds",
			Help:      "Guardrail call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Decisions, m.CacheHits, m.CacheMisses, m.GuardrailErrors, m.GuardrailTime)
	return m
}
