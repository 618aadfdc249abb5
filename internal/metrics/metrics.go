package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the Velro API, registered on a
// private registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	AuthzDecisionsTotal *prometheus.CounterVec
	AuthzCacheHitsTotal *prometheus.CounterVec
	AuthzCacheMisses    prometheus.Counter
	AuthzTierErrors     *prometheus.CounterVec

	RateLimitRejectionsTotal *prometheus.CounterVec

	AuthFailuresTotal prometheus.Counter

	ProviderRequestsTotal *prometheus.CounterVec
	ProviderDuration      *prometheus.HistogramVec

	CreditsSpentTotal    prometheus.Counter
	CreditsRefundedTotal prometheus.Counter

	AuditDroppedTotal prometheus.Counter
	AuditWritesTotal  *prometheus.CounterVec

	WebhookDeliveriesTotal *prometheus.CounterVec

	ServerStartTime prometheus.Gauge
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "velro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		AuthzDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_authz_decisions_total",
			Help: "Authorization decisions by outcome and grant source.",
		}, []string{"outcome", "source"}),

		AuthzCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_authz_cache_hits_total",
			Help: "Authorization cache hits by tier.",
		}, []string{"tier"}),

		AuthzCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velro_authz_cache_misses_total",
			Help: "Authorization cache lookups that missed every tier.",
		}),

		AuthzTierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_authz_cache_tier_errors_total",
			Help: "Cache tier failures treated as misses.",
		}, []string{"tier"}),

		RateLimitRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_ratelimit_rejections_total",
			Help: "Requests rejected by the rate limiter.",
		}, []string{"mode"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velro_auth_failures_total",
			Help: "Requests rejected for missing or invalid tokens.",
		}),

		ProviderRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_provider_requests_total",
			Help: "Generation provider calls by provider and result.",
		}, []string{"provider", "status"}),

		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "velro_provider_duration_seconds",
			Help:    "Generation provider call duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"provider"}),

		CreditsSpentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velro_credits_spent_total",
			Help: "Credits deducted for generations.",
		}),

		CreditsRefundedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velro_credits_refunded_total",
			Help: "Credits refunded for failed generations.",
		}),

		AuditDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velro_audit_dropped_total",
			Help: "Audit entries dropped because the buffer was full.",
		}),

		AuditWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_audit_writes_total",
			Help: "Audit batch writes by status.",
		}, []string{"status"}),

		WebhookDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velro_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by status.",
		}, []string{"status"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "velro_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.AuthzCacheHitsTotal,
		m.AuthzCacheMisses,
		m.AuthzTierErrors,
		m.RateLimitRejectionsTotal,
		m.AuthFailuresTotal,
		m.ProviderRequestsTotal,
		m.ProviderDuration,
		m.CreditsSpentTotal,
		m.CreditsRefundedTotal,
		m.AuditDroppedTotal,
		m.AuditWritesTotal,
		m.WebhookDeliveriesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so components can run uninstrumented,
// e.g. in tests that do not care about metrics.

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) IncDecision(outcome, source string) {
	if m == nil {
		return
	}
	m.AuthzDecisionsTotal.WithLabelValues(outcome, source).Inc()
}

func (m *Metrics) IncCacheHit(tier string) {
	if m == nil {
		return
	}
	m.AuthzCacheHitsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.AuthzCacheMisses.Inc()
}

func (m *Metrics) IncTierError(tier string) {
	if m == nil {
		return
	}
	m.AuthzTierErrors.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncRateLimitRejection(mode string) {
	if m == nil {
		return
	}
	m.RateLimitRejectionsTotal.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncAuthFailure() {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.Inc()
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.Inc()
}

func (m *Metrics) IncAuditWrite(status string) {
	if m == nil {
		return
	}
	m.AuditWritesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWebhookDelivery(status string) {
	if m == nil {
		return
	}
	m.WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddCreditsSpent(n int) {
	if m == nil {
		return
	}
	m.CreditsSpentTotal.Add(float64(n))
}

func (m *Metrics) AddCreditsRefunded(n int) {
	if m == nil {
		return
	}
	m.CreditsRefundedTotal.Add(float64(n))
}

func (m *Metrics) ObserveProviderCall(provider string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderRequestsTotal.WithLabelValues(provider, status).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(seconds)
}
