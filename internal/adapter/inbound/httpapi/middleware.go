package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/Aegis-Gate/Aegisgate/internal/ctxkey"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/token"
)

// TokenVerifier verifies a bearer token and returns its claims.
type TokenVerifier interface {
	ValidateToken(ctx context.Context, tokenString string) (*token.Claims, error)
}

// gatekeeperExcluded are exact paths served without bearer verification.
var gatekeeperExcluded = map[string]struct{}{
	"/":             {},
	"/health":       {},
	"/config":       {},
	"/docs":         {},
	"/openapi.json": {},
	"/auth/token":   {},
	"/authz/health": {},
	"/metrics":      {},
	"/favicon.ico":  {},
}

// gatekeeperExcludedPrefixes are path prefixes served without verification.
var gatekeeperExcludedPrefixes = []string{"/docs", "/openapi"}

func excludedPath(path string) bool {
	if _, ok := gatekeeperExcluded[path]; ok {
		return true
	}
	for _, prefix := range gatekeeperExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Gatekeeper verifies the Authorization bearer token on every request
// outside the exclusion set. Requests without an Authorization header pass
// through unauthenticated; handlers that need a verified caller reject them
// via RequireClaims. A present-but-invalid header is rejected here.
func Gatekeeper(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excludedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				ctx := context.WithValue(r.Context(), ctxkey.AuthenticatedKey{}, false)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if !strings.HasPrefix(auth, "Bearer ") {
				writeDetail(w, http.StatusUnauthorized,
					"Invalid authorization header format. Expected 'Bearer <token>'")
				return
			}

			claims, err := verifier.ValidateToken(r.Context(), strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.Warn("bearer verification failed", "path", r.URL.Path, "error", err)
				writeDetail(w, http.StatusUnauthorized, "Invalid or expired token: "+err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), ctxkey.ClaimsKey{}, claims)
			ctx = context.WithValue(ctx, ctxkey.AuthenticatedKey{}, true)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{},
				LoggerFromContext(ctx).With("subject", claims.Subject))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireClaims returns the verified claims for the request, writing the
// error response and returning false when the caller is not authenticated.
func RequireClaims(w http.ResponseWriter, r *http.Request) (*token.Claims, bool) {
	authenticated, _ := r.Context().Value(ctxkey.AuthenticatedKey{}).(bool)
	if !authenticated {
		writeDetail(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	claims, ok := r.Context().Value(ctxkey.ClaimsKey{}).(*token.Claims)
	if !ok || claims == nil {
		writeDetail(w, http.StatusForbidden, "Invalid authentication state")
		return nil, false
	}
	return claims, true
}

// OptionalClaims returns the verified claims when present, nil otherwise.
func OptionalClaims(r *http.Request) *token.Claims {
	claims, _ := r.Context().Value(ctxkey.ClaimsKey{}).(*token.Claims)
	return claims
}

// CorrelationID propagates a client-sent X-Correlation-ID header into the
// request context, the response, and the request logger. No id is minted
// here; the authorization service mints its own when the caller sent none.
func CorrelationID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestLogger := logger
			ctx := r.Context()
			if id := r.Header.Get("X-Correlation-ID"); id != "" {
				requestLogger = logger.With("correlation_id", id)
				ctx = context.WithValue(ctx, ctxkey.CorrelationIDKey{}, id)
				w.Header().Set("X-Correlation-ID", id)
			}
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFromContext returns the client-sent correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.CorrelationIDKey{}).(string)
	return id
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RealIP extracts the client's real IP address for rate limiting and audit.
// It checks X-Forwarded-For and X-Real-IP headers (for reverse proxy
// support), falling back to r.RemoteAddr if no proxy headers are present.
// Only the first IP in X-Forwarded-For is trusted to avoid spoofing.
func RealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxkey.RealIPKey{}, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the resolved client address for the request.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxkey.RealIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return extractRealIP(r)
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	// X-Forwarded-For format: client, proxy1, proxy2. Trust only the
	// first entry.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is in "host:port" format.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeDetail writes a JSON body of the form {"detail": ...}. Middleware
// cannot reach the APIHandler helpers, so this stands alone.
func writeDetail(w http.ResponseWriter, status int, detail any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"detail": detail})
}
