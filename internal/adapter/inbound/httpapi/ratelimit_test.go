package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/memory"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/ratelimit"
)

// --- Budget Routing Tests ---

func TestBudgets_ForRoute(t *testing.T) {
	budgets := DefaultBudgets()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/auth/token", 10},
		{http.MethodPost, "/authz/evaluate", 100},
		{http.MethodGet, "/authz/policies", 50},
		{http.MethodPost, "/authz/policies/reload", 10},
		{http.MethodGet, "/auth/token", 0},
		{http.MethodGet, "/scim/v2/Users", 0},
		{http.MethodGet, "/health", 0},
	}
	for _, tt := range tests {
		if got := budgets.forRoute(tt.method, tt.path); got != tt.want {
			t.Errorf("forRoute(%s %s) = %d, want %d", tt.method, tt.path, got, tt.want)
		}
	}
}

// --- Middleware Tests ---

// countingStats records refusals.
type countingStats struct {
	refused int
}

func (s *countingStats) RecordRateLimited() { s.refused++ }

func TestRateLimitMiddleware_EnforcesBudget(t *testing.T) {
	limiter := memory.NewRateLimiter()
	stats := &countingStats{}
	budgets := Budgets{TokenPerMinute: 2}

	handler := RateLimitMiddleware(limiter, budgets, stats, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Rate limit exceeded: 2 per 1 minute" {
		t.Errorf("error = %q", body["error"])
	}
	if stats.refused != 1 {
		t.Errorf("refusals recorded = %d, want 1", stats.refused)
	}
}

func TestRateLimitMiddleware_UnmatchedRouteUnlimited(t *testing.T) {
	limiter := memory.NewRateLimiter()
	budgets := Budgets{TokenPerMinute: 1}

	handler := RateLimitMiddleware(limiter, budgets, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodGet, "/scim/v2/Users", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_ClientsAreIsolated(t *testing.T) {
	limiter := memory.NewRateLimiter()
	budgets := Budgets{TokenPerMinute: 1}

	handler := RateLimitMiddleware(limiter, budgets, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	// First client exhausts its budget
	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("client A first request: status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("client A second request: status = %d, want 429", rec.Code)
	}

	// A different client still has budget
	req2 := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	req2.Header.Set("X-Forwarded-For", "198.51.100.4")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req2)
	if rec.Code != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", rec.Code)
	}
}

// brokenLimiter always errors.
type brokenLimiter struct{}

func (brokenLimiter) Allow(ctx context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("backend unavailable")
}

func TestRateLimitMiddleware_FailsOpenOnLimiterError(t *testing.T) {
	budgets := Budgets{TokenPerMinute: 1}
	handler := RateLimitMiddleware(brokenLimiter{}, budgets, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 (fail open)", i+1, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	budgets := DefaultBudgets()
	handler := RateLimitMiddleware(nil, budgets, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// RetryAfter stays within the window for an immediate refusal.
func TestRateLimitMiddleware_RetryAfterBounded(t *testing.T) {
	limiter := memory.NewRateLimiter()
	budgets := Budgets{EvaluatePerMinute: 1}

	handler := RateLimitMiddleware(limiter, budgets, nil, discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodPost, "/authz/evaluate", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	seconds, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After %q is not a number of seconds", rec.Header().Get("Retry-After"))
	}
	if seconds < 1 || seconds > 61 {
		t.Errorf("Retry-After = %d, want within [1, 61]", seconds)
	}
}
