package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the service. A nil *Metrics is a no-op.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	authOutcomes      *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       prometheus.Counter
	staleServed       prometheus.Counter
	lookups           *prometheus.CounterVec
	breakerTransition *prometheus.CounterVec
	rateDecisions     *prometheus.CounterVec
	rateStoreErrors   *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_errors_total",
			Help: "Rendered error responses by code.",
		}, []string{"path", "method", "code"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_outcomes_total",
			Help: "Token validation outcomes by claims source or error kind.",
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_identity_cache_hits_total",
			Help: "Identity cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_identity_cache_misses_total",
			Help: "Identity cache misses across all tiers.",
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_identity_cache_stale_served_total",
			Help: "Stale identities served while the provider was unavailable.",
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_identity_lookups_total",
			Help: "Upstream identity lookups by outcome.",
		}, []string{"outcome"}),
		breakerTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_circuit_breaker_transitions_total",
			Help: "Circuit breaker transitions by dependency and target state.",
		}, []string{"dependency", "state"}),
		rateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limit_decisions_total",
			Help: "Rate limit decisions by tier.",
		}, []string{"tier", "decision"}),
		rateStoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limit_store_errors_total",
			Help: "Bucket store failures by tier.",
		}, []string{"tier"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.requests,
			m.requestLatency,
			m.errors,
			m.authOutcomes,
			m.cacheHits,
			m.cacheMisses,
			m.staleServed,
			m.lookups,
			m.breakerTransition,
			m.rateDecisions,
			m.rateStoreErrors,
		)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordAuthOutcome counts a validation result.
func (m *Metrics) RecordAuthOutcome(outcome string) {
	if m == nil {
		return
	}
	m.authOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCacheHit counts a fresh hit on the named tier.
func (m *Metrics) RecordCacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss counts a miss on every tier.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordStaleServed counts an outage fallback.
func (m *Metrics) RecordStaleServed() {
	if m == nil {
		return
	}
	m.staleServed.Inc()
}

// RecordLookup counts an upstream lookup result.
func (m *Metrics) RecordLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

// RecordBreakerTransition counts a breaker state change.
func (m *Metrics) RecordBreakerTransition(dependency, state string) {
	if m == nil {
		return
	}
	m.breakerTransition.WithLabelValues(dependency, state).Inc()
}

// RecordRateLimit counts a tier decision.
func (m *Metrics) RecordRateLimit(tier string, allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.rateDecisions.WithLabelValues(tier, decision).Inc()
}

// RecordRateLimitStoreError counts a bucket store failure.
func (m *Metrics) RecordRateLimitStoreError(tier string) {
	if m == nil {
		return
	}
	m.rateStoreErrors.WithLabelValues(tier).Inc()
}
