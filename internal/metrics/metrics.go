// Package metrics exposes Prometheus instruments for the auth core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	RateLimitDecisions   *prometheus.CounterVec
	PermissionCache      *prometheus.CounterVec
	TokensIssued         *prometheus.CounterVec
	HydrationFailures    prometheus.Counter
	PermissionGeneration *prometheus.CounterVec
}

// New creates and registers all metrics on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_ratelimit_decisions_total",
				Help: "Rate limiter outcomes by policy",
			},
			[]string{"policy", "outcome"},
		),
		PermissionCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_permission_cache_lookups_total",
				Help: "Permission cache lookups by result (hit, miss, error, bypass)",
			},
			[]string{"result"},
		),
		TokensIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_tokens_issued_total",
				Help: "Tokens minted by kind",
			},
			[]string{"kind"},
		),
		HydrationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "karaoke_permission_hydration_failures_total",
				Help: "Organizations skipped during request hydration",
			},
		),
		PermissionGeneration: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "karaoke_permission_generation_bumps_total",
				Help: "Organization permission generation bumps by source",
			},
			[]string{"source"},
		),
	}
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.RateLimitDecisions,
		m.PermissionCache,
		m.TokensIssued,
		m.HydrationFailures,
		m.PermissionGeneration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RateLimit(policy, outcome string) {
	if m == nil {
		return
	}
	m.RateLimitDecisions.WithLabelValues(policy, outcome).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.PermissionCache.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) HydrationFailed() {
	if m == nil {
		return
	}
	m.HydrationFailures.Inc()
}

func (m *Metrics) GenerationBumped(source string) {
	if m == nil {
		return
	}
	m.PermissionGeneration.WithLabelValues(source).Inc()
}

func (m *Metrics) Request(method, path, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}
