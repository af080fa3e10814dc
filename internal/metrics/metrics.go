// Package metrics exposes counters for observing retrieval health. Per-source
// degradation is silent at the result level, so these counters are the only
// way to tell a quiet query from a broken source.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's counters. Construct with New; a nil *Metrics is
// safe to call, so wiring metrics stays optional.
type Metrics struct {
	fetches    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	cacheHits  *prometheus.CounterVec
	cacheMiss  *prometheus.CounterVec
	rateDenied *prometheus.CounterVec
	duplicates prometheus.Counter
	skipped    *prometheus.CounterVec
}

// New creates Metrics registered on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_source_fetches_total",
			Help: "Successful adapter fetches per source.",
		}, []string{"source"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_source_failures_total",
			Help: "Failed adapter fetches per source and error kind.",
		}, []string{"source", "kind"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_cache_hits_total",
			Help: "Result cache hits per source.",
		}, []string{"source"}),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_cache_misses_total",
			Help: "Result cache misses per source.",
		}, []string{"source"}),
		rateDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_rate_limit_denied_total",
			Help: "Fetches skipped because the source's rate window was full.",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guidepost_duplicates_collapsed_total",
			Help: "Candidates folded into a duplicate-set survivor.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guidepost_items_skipped_total",
			Help: "Malformed response items skipped during parsing.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.fetches, m.failures, m.cacheHits, m.cacheMiss,
		m.rateDenied, m.duplicates, m.skipped)
	return m
}

func (m *Metrics) Fetch(source string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(source).Inc()
}

func (m *Metrics) Failure(source, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) CacheHit(source string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(source).Inc()
}

func (m *Metrics) CacheMiss(source string) {
	if m == nil {
		return
	}
	m.cacheMiss.WithLabelValues(source).Inc()
}

func (m *Metrics) RateLimitDenied(source string) {
	if m == nil {
		return
	}
	m.rateDenied.WithLabelValues(source).Inc()
}

func (m *Metrics) DuplicatesCollapsed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.duplicates.Add(float64(n))
}

func (m *Metrics) ItemsSkipped(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.skipped.WithLabelValues(source).Add(float64(n))
}
