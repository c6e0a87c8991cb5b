package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the hit/miss/eviction counters spec §4.4 requires
// ("the cache exposes hit/miss/eviction counters for observability").
// A nil *Metrics is valid and simply discards every observation, so tests
// and callers that don't care about Prometheus never have to register a
// registry.
type Metrics struct {
	Hits      prometheus.Counter
	Misses    prometheus.Counter
	Evictions prometheus.Counter
}

// NewMetrics builds a Metrics with one unlabeled counter per outcome,
// registered under the given Prometheus registerer when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	hits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbd",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Number of block cache lookups that hit.",
	})
	misses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbd",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Number of block cache lookups that missed.",
	})
	evictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sbd",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Number of block cache entries evicted.",
	})
	if reg != nil {
		reg.MustRegister(hits, misses, evictions)
	}
	return &Metrics{Hits: hits, Misses: misses, Evictions: evictions}
}

func (m *Metrics) hit() {
	if m != nil && m.Hits != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil && m.Misses != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) eviction() {
	if m != nil && m.Evictions != nil {
		m.Evictions.Inc()
	}
}
