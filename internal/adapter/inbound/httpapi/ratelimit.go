package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/ratelimit"
)

// Budgets holds the per-minute request caps for the rate-limited routes.
// A zero cap leaves the route unlimited.
type Budgets struct {
	TokenPerMinute    int
	EvaluatePerMinute int
	PoliciesPerMinute int
	ReloadPerMinute   int
}

// DefaultBudgets returns the standard per-route caps.
func DefaultBudgets() Budgets {
	return Budgets{
		TokenPerMinute:    10,
		EvaluatePerMinute: 100,
		PoliciesPerMinute: 50,
		ReloadPerMinute:   10,
	}
}

// forRoute returns the cap for the given route, or 0 for unlimited routes.
func (b Budgets) forRoute(method, path string) int {
	switch {
	case method == http.MethodPost && path == "/auth/token":
		return b.TokenPerMinute
	case method == http.MethodPost && path == "/authz/evaluate":
		return b.EvaluatePerMinute
	case method == http.MethodGet && path == "/authz/policies":
		return b.PoliciesPerMinute
	case method == http.MethodPost && path == "/authz/policies/reload":
		return b.ReloadPerMinute
	}
	return 0
}

// RateLimitStats receives refusal counters.
type RateLimitStats interface {
	RecordRateLimited()
}

// RateLimitMiddleware enforces the per-route, per-IP budgets using a
// fixed-window limiter. Refused requests get 429 with a Retry-After header.
// A limiter error fails open: the request proceeds.
func RateLimitMiddleware(limiter ratelimit.Limiter, budgets Budgets, stats RateLimitStats, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := budgets.forRoute(r.Method, r.URL.Path)
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := ratelimit.Key(r.URL.Path, ClientIP(r))
			result, err := limiter.Allow(r.Context(), key, ratelimit.Config{
				Limit:  limit,
				Window: time.Minute,
			})
			if err != nil {
				logger.Error("rate limiter failure", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				if stats != nil {
					stats.RecordRateLimited()
				}
				retryAfter := int(result.RetryAfter.Seconds()) + 1
				if retryAfter < 1 {
					retryAfter = 1
				}
				logger.Warn("rate limit exceeded",
					"path", r.URL.Path, "client_ip", ClientIP(r), "limit", limit)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprintf(w, `{"error":"Rate limit exceeded: %d per 1 minute"}`, limit)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
