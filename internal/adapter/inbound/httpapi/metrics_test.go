package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)

	// Verify all metrics are registered
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal not initialized")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration not initialized")
	}
	if m.DecisionsTotal == nil {
		t.Error("DecisionsTotal not initialized")
	}
	if m.CacheHitsTotal == nil {
		t.Error("CacheHitsTotal not initialized")
	}
	if m.TokensIssuedTotal == nil {
		t.Error("TokensIssuedTotal not initialized")
	}
	if m.TokensDeniedTotal == nil {
		t.Error("TokensDeniedTotal not initialized")
	}
	if m.RateLimitedTotal == nil {
		t.Error("RateLimitedTotal not initialized")
	}
}

func TestMetricsForwardToStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats := service.NewStatsService()
	m := NewMetrics(reg, stats)

	m.RecordDecision(authz.EffectPermit)
	m.RecordDecision(authz.EffectDeny)
	m.RecordDecision(authz.EffectChallenge)
	m.RecordCacheHit()
	m.RecordTokenIssued("client_credentials")
	m.RecordTokenDenied()
	m.RecordRateLimited()

	// Verify the Prometheus side
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("Permit")); got != 1 {
		t.Errorf("DecisionsTotal{Permit} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("Deny")); got != 1 {
		t.Errorf("DecisionsTotal{Deny} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 1 {
		t.Errorf("CacheHitsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TokensIssuedTotal.WithLabelValues("client_credentials")); got != 1 {
		t.Errorf("TokensIssuedTotal{client_credentials} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TokensDeniedTotal); got != 1 {
		t.Errorf("TokensDeniedTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimitedTotal); got != 1 {
		t.Errorf("RateLimitedTotal = %v, want 1", got)
	}

	// Verify the same events reached the wrapped stats sink
	snap := stats.GetStats()
	if snap.Permits != 1 || snap.Denies != 1 || snap.Challenges != 1 {
		t.Errorf("decisions = %d/%d/%d, want 1/1/1", snap.Permits, snap.Denies, snap.Challenges)
	}
	if snap.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", snap.CacheHits)
	}
	if snap.GrantCounts["client_credentials"] != 1 {
		t.Errorf("GrantCounts[client_credentials] = %d, want 1", snap.GrantCounts["client_credentials"])
	}
	if snap.TokensDenied != 1 {
		t.Errorf("TokensDenied = %d, want 1", snap.TokensDenied)
	}
	if snap.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", snap.RateLimited)
	}
}

func TestMetricsNilStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, nil)

	// All recorders must tolerate a nil stats sink
	m.RecordDecision(authz.EffectPermit)
	m.RecordCacheHit()
	m.RecordTokenIssued("password")
	m.RecordTokenDenied()
	m.RecordRateLimited()

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("Permit")); got != 1 {
		t.Errorf("DecisionsTotal{Permit} = %v, want 1", got)
	}
}

func TestStatusToLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusOK, "ok"},
		{http.StatusCreated, "ok"},
		{http.StatusNoContent, "ok"},
		{http.StatusMovedPermanently, "ok"},
		{http.StatusBadRequest, "error"},
		{http.StatusUnauthorized, "error"},
		{http.StatusNotFound, "error"},
		{http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		if got := statusToLabel(tt.code); got != tt.want {
			t.Errorf("statusToLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}

	// A handler that writes a body without calling WriteHeader
	if _, err := wrapped.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if wrapped.status != http.StatusOK {
		t.Errorf("status = %d, want 200", wrapped.status)
	}

	wrapped.WriteHeader(http.StatusTeapot)
	if wrapped.status != http.StatusTeapot {
		t.Errorf("status = %d, want 418", wrapped.status)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/authz/evaluate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Verify histogram has observation
	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "aegisgate_request_duration_seconds" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "method" && lp.GetValue() == "POST" {
						if m.GetHistogram().GetSampleCount() != 1 {
							t.Errorf("expected 1 observation, got %d", m.GetHistogram().GetSampleCount())
						}
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("expected to find request_duration_seconds metric with method=POST")
	}
}

func TestMetricsMiddleware_RecordsRequestCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Verify counter incremented
	var m dto.Metric
	if err := metrics.RequestsTotal.WithLabelValues("POST", "ok").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("expected count 1, got %f", m.Counter.GetValue())
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodPost, "/authz/evaluate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Verify error counter incremented
	var m dto.Metric
	if err := metrics.RequestsTotal.WithLabelValues("POST", "error").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("expected count 1, got %f", m.Counter.GetValue())
	}
}

func TestMetricsMiddleware_SkipsInstrumentationEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, nil)

	handler := MetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/metrics", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	// Verify nothing was recorded for either endpoint
	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}

	for _, mf := range metricFamilies {
		if mf.GetName() == "aegisgate_request_duration_seconds" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "method" && lp.GetValue() == "GET" {
						if m.GetHistogram().GetSampleCount() != 0 {
							t.Errorf("expected 0 observations for instrumentation endpoints, got %d", m.GetHistogram().GetSampleCount())
						}
					}
				}
			}
		}
	}
}
