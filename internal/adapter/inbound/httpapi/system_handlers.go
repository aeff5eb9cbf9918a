package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/memory"
	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/policyfile"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// serviceName identifies this service in banners and health responses.
const serviceName = "aegis-gate"

const (
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// handleRoot returns the service banner. GET /.
func (h *APIHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"service":     serviceName,
		"version":     h.version,
		"status":      "operational",
		"environment": h.environment,
		"capabilities": map[string]string{
			"provisioning":  "/scim/v2",
			"tokens":        "/auth/token",
			"authorization": "/authz/evaluate",
		},
	})
}

// ConfigView is the non-sensitive configuration snapshot served by /config
// in development. Secrets and key material never appear here.
type ConfigView struct {
	Service             string   `json:"service"`
	Version             string   `json:"version"`
	Environment         string   `json:"environment"`
	LogLevel            string   `json:"log_level"`
	JWTAlgorithm        string   `json:"jwt_algorithm"`
	JWTIssuer           string   `json:"jwt_issuer"`
	JWTAudience         string   `json:"jwt_audience"`
	TokenExpirationMins int      `json:"token_expiration_minutes"`
	PoliciesPath        string   `json:"policies_path"`
	DBPath              string   `json:"db_path"`
	CORSOrigins         []string `json:"cors_origins"`
}

// handleConfig serves the configuration snapshot in development only.
// GET /config.
func (h *APIHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	if h.environment != "development" || h.configView == nil {
		LoggerFromContext(r.Context()).Warn("config endpoint requested outside development",
			"environment", h.environment)
		h.respondJSON(w, http.StatusOK, map[string]string{
			"error": "Config endpoint only available in development",
		})
		return
	}
	h.respondJSON(w, http.StatusOK, h.configView)
}

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status      string            `json:"status"` // "healthy", "degraded", or "unhealthy"
	Service     string            `json:"service"`
	Version     string            `json:"version,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Checks      map[string]string `json:"checks"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store       identity.Store
	policies    *policyfile.FileRepository
	audit       *service.AuditService
	rateLimiter *memory.RateLimiter
	version     string
	environment string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	store identity.Store,
	policies *policyfile.FileRepository,
	audit *service.AuditService,
	rateLimiter *memory.RateLimiter,
	version, environment string,
) *HealthChecker {
	return &HealthChecker{
		store:       store,
		policies:    policies,
		audit:       audit,
		rateLimiter: rateLimiter,
		version:     version,
		environment: environment,
	}
}

// Check performs health checks on all components. An unreachable store
// makes the service unhealthy; an invalid policy file or a backlogged
// audit channel only degrades it.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	status := statusHealthy

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["store"] = "unavailable: " + err.Error()
			status = statusUnhealthy
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not configured"
	}

	if h.policies != nil {
		result := h.policies.Validate(ctx)
		if result.Valid {
			checks["policies"] = fmt.Sprintf("ok: %d policies", result.PoliciesCount)
		} else {
			checks["policies"] = fmt.Sprintf("invalid: %d errors", len(result.Errors))
			if status == statusHealthy {
				status = statusDegraded
			}
		}
	} else {
		checks["policies"] = "not configured"
	}

	if h.audit != nil {
		depth := h.audit.ChannelDepth()
		capacity := h.audit.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		// >90% full means the writer is not keeping up.
		if percentFull > 90 {
			checks["audit"] = fmt.Sprintf("backlogged: %d/%d (%d%%)", depth, capacity, percentFull)
			if status == statusHealthy {
				status = statusDegraded
			}
		} else {
			checks["audit"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.audit.DroppedRecords(); drops > 0 {
			checks["audit_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["audit"] = "not configured"
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	return HealthResponse{
		Status:      status,
		Service:     serviceName,
		Version:     h.version,
		Environment: h.environment,
		Checks:      checks,
	}
}

// handleHealth reports service health. GET /health. Only an unhealthy
// status maps to 503; degraded still serves traffic.
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		h.respondJSON(w, http.StatusOK, HealthResponse{
			Status:  statusHealthy,
			Service: serviceName,
			Version: h.version,
			Checks:  map[string]string{},
		})
		return
	}

	resp := h.health.Check(r.Context())
	status := http.StatusOK
	if resp.Status == statusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, resp)
}
