package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/authz"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// newRequestValidator builds the validator enforcing the authorization
// request bounds declared on authz.Request: riskScore within 0-100 and
// timeOfDay in HH:MM form. Messages carry wire field names.
func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// RegisterValidation only errors on an empty tag or nil func.
	_ = v.RegisterValidation("time_of_day", func(fl validator.FieldLevel) bool {
		return authz.ValidClock(fl.Field().String())
	})
	return v
}

// checkRequest validates the decoded authorization request against its
// attribute bounds. Returns a wire-name message describing each failure.
func (h *APIHandler) checkRequest(req authz.Request) (string, bool) {
	err := h.validate.Struct(req)
	if err == nil {
		return "", true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid authorization request", false
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
		case "time_of_day":
			msgs = append(msgs, fmt.Sprintf("%s must be in HH:MM format", e.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", e.Field()))
		}
	}
	return strings.Join(msgs, "; "), false
}

// authzErrorDetail is the detail body of authorization endpoint failures.
// CorrelationID renders as null when the caller sent none.
type authzErrorDetail struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID any    `json:"correlation_id"`
}

// nullable maps an empty correlation id to JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// handleEvaluate renders an authorization decision for the posted request.
// POST /authz/evaluate. Evaluation always answers 200: internal failures
// collapse to a safe-default Deny inside the service.
func (h *APIHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	claims, ok := RequireClaims(w, r)
	if !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	correlationID := CorrelationIDFromContext(r.Context())

	var req authz.Request
	if err := h.readJSON(r, &req); err != nil {
		h.respondDetail(w, http.StatusBadRequest, authzErrorDetail{
			Error:         "invalid_request",
			Message:       "Malformed authorization request body",
			CorrelationID: nullable(correlationID),
		})
		return
	}
	if msg, ok := h.checkRequest(req); !ok {
		h.respondDetail(w, http.StatusBadRequest, authzErrorDetail{
			Error:         "validation_error",
			Message:       msg,
			CorrelationID: nullable(correlationID),
		})
		return
	}

	logger.Info("authorization evaluation requested",
		"authenticated_user", claims.Subject,
		"resource_type", stringOrEmpty(req.Resource.Type),
		"action", req.Action)

	resp := h.authzService.Evaluate(r.Context(), req, correlationID)

	logger.Info("authorization evaluation completed",
		"decision", string(resp.Decision), "authenticated_user", claims.Subject)
	h.respondJSON(w, http.StatusOK, resp)
}

// handleApplicablePolicies reports which policies would fire for a request
// without rendering a decision. GET /authz/policies. An empty body analyzes
// the empty request.
func (h *APIHandler) handleApplicablePolicies(w http.ResponseWriter, r *http.Request) {
	claims, ok := RequireClaims(w, r)
	if !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	correlationID := CorrelationIDFromContext(r.Context())

	var req authz.Request
	if err := h.readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.respondDetail(w, http.StatusBadRequest, authzErrorDetail{
			Error:         "invalid_request",
			Message:       "Malformed authorization request body",
			CorrelationID: nullable(correlationID),
		})
		return
	}
	if msg, ok := h.checkRequest(req); !ok {
		h.respondDetail(w, http.StatusBadRequest, authzErrorDetail{
			Error:         "validation_error",
			Message:       msg,
			CorrelationID: nullable(correlationID),
		})
		return
	}

	report, err := h.authzService.GetApplicablePolicies(r.Context(), req)
	if err != nil {
		logger.Error("failed to get applicable policies",
			"authenticated_user", claims.Subject, "error", err)
		h.respondDetail(w, http.StatusInternalServerError, authzErrorDetail{
			Error:         "policies_retrieval_failed",
			Message:       "Failed to retrieve applicable policies",
			CorrelationID: nullable(correlationID),
		})
		return
	}

	logger.Info("applicable policies retrieved",
		"authenticated_user", claims.Subject,
		"total_policies", report.TotalPolicies,
		"applicable_count", len(report.ApplicablePolicies))
	h.respondJSON(w, http.StatusOK, report)
}

// handleReloadPolicies forces a policy reload from disk. Restricted to
// members of the ADMINS group. POST /authz/policies/reload.
func (h *APIHandler) handleReloadPolicies(w http.ResponseWriter, r *http.Request) {
	claims, ok := RequireClaims(w, r)
	if !ok {
		return
	}
	logger := LoggerFromContext(r.Context())
	correlationID := CorrelationIDFromContext(r.Context())

	if !claims.HasGroup("ADMINS") {
		logger.Warn("unauthorized policy reload attempt",
			"user", claims.Subject, "user_groups", claims.Groups)
		h.respondDetail(w, http.StatusForbidden, authzErrorDetail{
			Error:         "insufficient_permissions",
			Message:       "Admin privileges required for policy reload",
			CorrelationID: nullable(correlationID),
		})
		return
	}

	logger.Info("policy reload requested", "admin_user", claims.Subject)
	report := h.authzService.ReloadPolicies(r.Context())

	logger.Info("policies reloaded",
		"admin_user", claims.Subject,
		"policies_count", report.ReloadResult.PoliciesCount,
		"valid", report.ReloadResult.Valid)
	h.respondJSON(w, http.StatusOK, report)
}

// handleAuthzMetrics returns the authorization service metrics snapshot.
// GET /authz/metrics.
func (h *APIHandler) handleAuthzMetrics(w http.ResponseWriter, r *http.Request) {
	claims, ok := RequireClaims(w, r)
	if !ok {
		return
	}
	logger := LoggerFromContext(r.Context())

	metrics, err := h.authzService.Metrics(r.Context())
	if err != nil {
		logger.Error("failed to get authorization metrics",
			"user", claims.Subject, "error", err)
		h.respondDetail(w, http.StatusInternalServerError, map[string]string{
			"error":   "metrics_retrieval_failed",
			"message": "Failed to retrieve authorization metrics",
		})
		return
	}

	logger.Info("authorization metrics requested",
		"user", claims.Subject, "service_status", metrics.Status)
	h.respondJSON(w, http.StatusOK, metrics)
}

// authzHealthResponse is the body of the authorization health endpoint.
type authzHealthResponse struct {
	Service   string                 `json:"service"`
	Status    string                 `json:"status"`
	Policies  authzPoliciesState     `json:"policies"`
	Metrics   service.ServiceMetrics `json:"metrics"`
	Timestamp string                 `json:"timestamp"`
}

type authzPoliciesState struct {
	Valid    bool     `json:"valid"`
	Count    int      `json:"count"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// handleAuthzHealth reports policy validation state and service metrics for
// the authorization subsystem. GET /authz/health. Unauthenticated.
func (h *APIHandler) handleAuthzHealth(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	report := h.authzService.ValidateCurrentPolicies(r.Context())
	metrics, err := h.authzService.Metrics(r.Context())
	if err != nil {
		logger.Error("authorization health check failed", "error", err)
		h.respondJSON(w, http.StatusOK, map[string]any{
			"service":   "authorization",
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": report.Timestamp.UTC().Format(time.RFC3339),
		})
		return
	}

	status := "healthy"
	if !report.Validation.Valid {
		status = "degraded"
	}

	logger.Info("authorization health check completed",
		"status", status, "policies_valid", report.Validation.Valid)
	h.respondJSON(w, http.StatusOK, authzHealthResponse{
		Service: "authorization",
		Status:  status,
		Policies: authzPoliciesState{
			Valid:    report.Validation.Valid,
			Count:    report.Metadata.PoliciesCount,
			Errors:   nonNil(report.Validation.Errors),
			Warnings: nonNil(report.Validation.Warnings),
		},
		Metrics:   metrics,
		Timestamp: report.Timestamp.UTC().Format(time.RFC3339),
	})
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nonNil renders a nil slice as an empty JSON array.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
