// Package httpapi provides the inbound HTTP adapter: SCIM provisioning,
// OAuth2-style token issuance, and ABAC authorization endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// APIHandler holds the services behind the JSON API endpoints.
type APIHandler struct {
	authService  *service.AuthService
	authzService *service.AuthzService
	scimService  *service.SCIMService
	health       *HealthChecker
	configView   *ConfigView
	version      string
	environment  string
	logger       *slog.Logger
	validate     *validator.Validate
}

// APIOption configures an APIHandler dependency.
type APIOption func(*APIHandler)

// WithAuthService sets the token issuance service.
func WithAuthService(s *service.AuthService) APIOption {
	return func(h *APIHandler) { h.authService = s }
}

// WithAuthzService sets the authorization service.
func WithAuthzService(s *service.AuthzService) APIOption {
	return func(h *APIHandler) { h.authzService = s }
}

// WithSCIMService sets the provisioning service.
func WithSCIMService(s *service.SCIMService) APIOption {
	return func(h *APIHandler) { h.scimService = s }
}

// WithHealthChecker sets the composite health checker for /health.
func WithHealthChecker(hc *HealthChecker) APIOption {
	return func(h *APIHandler) { h.health = hc }
}

// WithConfigView sets the non-sensitive configuration dump served by /config.
func WithConfigView(v *ConfigView) APIOption {
	return func(h *APIHandler) { h.configView = v }
}

// WithVersion sets the version reported by the banner and health endpoints.
func WithVersion(v string) APIOption {
	return func(h *APIHandler) { h.version = v }
}

// WithEnvironment sets the deployment environment. The /config endpoint is
// only served when this is "development".
func WithEnvironment(env string) APIOption {
	return func(h *APIHandler) { h.environment = env }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(h *APIHandler) { h.logger = l }
}

// NewAPIHandler creates an APIHandler with the given options.
func NewAPIHandler(opts ...APIOption) *APIHandler {
	h := &APIHandler{
		version:     "dev",
		environment: "development",
		logger:      slog.Default(),
		validate:    newRequestValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all API routes registered.
// Authentication is enforced by the Gatekeeper middleware wrapping this
// handler, not here; handlers needing a verified caller use RequireClaims.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// System endpoints.
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /config", h.handleConfig)

	// Token issuance and introspection.
	mux.HandleFunc("POST /auth/token", h.handleIssueToken)
	mux.HandleFunc("GET /auth/me", h.handleWhoAmI)

	// Authorization.
	mux.HandleFunc("POST /authz/evaluate", h.handleEvaluate)
	mux.HandleFunc("GET /authz/policies", h.handleApplicablePolicies)
	mux.HandleFunc("POST /authz/policies/reload", h.handleReloadPolicies)
	mux.HandleFunc("GET /authz/metrics", h.handleAuthzMetrics)
	mux.HandleFunc("GET /authz/health", h.handleAuthzHealth)

	// SCIM user provisioning.
	mux.HandleFunc("GET /scim/v2/Users", h.handleListUsers)
	mux.HandleFunc("POST /scim/v2/Users", h.handleCreateUser)
	mux.HandleFunc("GET /scim/v2/Users/{id}", h.handleGetUser)
	mux.HandleFunc("PUT /scim/v2/Users/{id}", h.handleReplaceUser)
	mux.HandleFunc("DELETE /scim/v2/Users/{id}", h.handleDeleteUser)

	// SCIM group provisioning and membership.
	mux.HandleFunc("GET /scim/v2/Groups", h.handleListGroups)
	mux.HandleFunc("POST /scim/v2/Groups", h.handleCreateGroup)
	mux.HandleFunc("GET /scim/v2/Groups/{id}", h.handleGetGroup)
	mux.HandleFunc("PUT /scim/v2/Groups/{id}", h.handleReplaceGroup)
	mux.HandleFunc("PATCH /scim/v2/Groups/{id}", h.handleUpdateGroupMembers)
	mux.HandleFunc("DELETE /scim/v2/Groups/{id}", h.handleDeleteGroup)
	mux.HandleFunc("POST /scim/v2/Groups/{id}/members", h.handleAddGroupMember)
	mux.HandleFunc("DELETE /scim/v2/Groups/{id}/members/{userId}", h.handleRemoveGroupMember)

	return mux
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *APIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondDetail writes a JSON response wrapping the payload in a detail field.
func (h *APIHandler) respondDetail(w http.ResponseWriter, status int, detail any) {
	h.respondJSON(w, status, map[string]any{"detail": detail})
}

// readJSON decodes the request body into the given value.
// Returns an error if the body cannot be decoded as JSON.
func (h *APIHandler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
// Uses Go 1.22+ PathValue.
func (h *APIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
