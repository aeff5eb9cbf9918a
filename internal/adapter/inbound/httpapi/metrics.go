package httpapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// Metrics holds all Prometheus metrics for Aegis Gate. It doubles as the
// stats sink for the services: every recorded event increments the matching
// Prometheus series and forwards to the wrapped StatsService, so the JSON
// metrics endpoints and the exposition endpoint always agree.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	DecisionsTotal    *prometheus.CounterVec
	CacheHitsTotal    prometheus.Counter
	TokensIssuedTotal *prometheus.CounterVec
	TokensDeniedTotal prometheus.Counter
	RateLimitedTotal  prometheus.Counter

	stats *service.StatsService
}

// NewMetrics creates and registers all metrics with the given registry.
// stats may be nil when no JSON counter snapshot is needed.
func NewMetrics(reg prometheus.Registerer, stats *service.StatsService) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aegisgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "authz_decisions_total",
				Help:      "Total authorization decisions rendered",
			},
			[]string{"decision"}, // Permit/Deny/Challenge
		),
		CacheHitsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "authz_cache_hits_total",
				Help:      "Total decisions served from the decision cache",
			},
		),
		TokensIssuedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "tokens_issued_total",
				Help:      "Total bearer tokens issued",
			},
			[]string{"grant_type"},
		),
		TokensDeniedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "tokens_denied_total",
				Help:      "Total token requests rejected",
			},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aegisgate",
				Name:      "rate_limited_total",
				Help:      "Total requests refused by the rate limiter",
			},
		),
		stats: stats,
	}
}

// RecordDecision increments the counter for the rendered effect.
func (m *Metrics) RecordDecision(effect authz.Effect) {
	m.DecisionsTotal.WithLabelValues(string(effect)).Inc()
	if m.stats != nil {
		m.stats.RecordDecision(effect)
	}
}

// RecordCacheHit increments the decision cache hit counter.
func (m *Metrics) RecordCacheHit() {
	m.CacheHitsTotal.Inc()
	if m.stats != nil {
		m.stats.RecordCacheHit()
	}
}

// RecordTokenIssued increments the issuance counter for the grant type.
func (m *Metrics) RecordTokenIssued(grantType string) {
	m.TokensIssuedTotal.WithLabelValues(grantType).Inc()
	if m.stats != nil {
		m.stats.RecordTokenIssued(grantType)
	}
}

// RecordTokenDenied increments the rejected-issuance counter.
func (m *Metrics) RecordTokenDenied() {
	m.TokensDeniedTotal.Inc()
	if m.stats != nil {
		m.stats.RecordTokenDenied()
	}
}

// RecordRateLimited increments the rate-limited counter.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
	if m.stats != nil {
		m.stats.RecordRateLimited()
	}
}

var (
	_ service.DecisionStats = (*Metrics)(nil)
	_ service.TokenStats    = (*Metrics)(nil)
	_ RateLimitStats        = (*Metrics)(nil)
)

// MetricsMiddleware wraps an HTTP handler to record request metrics.
// It records request_duration_seconds (by method) and requests_total
// (by method and status).
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip the exposition and probe endpoints.
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(wrapped.status)).Inc()
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush delegates to the underlying ResponseWriter if it supports http.Flusher.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusToLabel converts an HTTP status code to a label value.
func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
