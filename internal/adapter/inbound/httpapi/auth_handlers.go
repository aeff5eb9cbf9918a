package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

// oauthError is the OAuth2-style error body of the token endpoint.
type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (h *APIHandler) respondOAuthError(w http.ResponseWriter, status int, code, description string) {
	h.respondJSON(w, status, oauthError{Error: code, ErrorDescription: description})
}

// handleIssueToken authenticates the supplied credentials and mints a
// bearer token. POST /auth/token.
func (h *APIHandler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	var req service.TokenRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondOAuthError(w, http.StatusBadRequest, "invalid_request", "Malformed request body")
		return
	}

	logger.Info("token generation requested",
		"grant_type", req.GrantType, "client_ip", ClientIP(r))

	resp, err := h.authService.IssueToken(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedGrant):
			h.respondOAuthError(w, http.StatusBadRequest, "unsupported_grant_type",
				fmt.Sprintf("Grant type '%s' is not supported", req.GrantType))
		case errors.Is(err, service.ErrUserInactive):
			h.respondOAuthError(w, http.StatusUnauthorized, "invalid_grant",
				"User account is inactive")
		case errors.Is(err, service.ErrInvalidCredentials):
			h.respondOAuthError(w, http.StatusUnauthorized, "invalid_client",
				"Authentication failed - invalid credentials")
		default:
			logger.Error("token issuance failed", "grant_type", req.GrantType, "error", err)
			h.respondOAuthError(w, http.StatusInternalServerError, "server_error",
				"An unexpected error occurred")
		}
		return
	}

	logger.Info("token generated", "grant_type", req.GrantType, "scope", resp.Scope)
	h.respondJSON(w, http.StatusOK, resp)
}

// claimsResponse is the decoded-claims body of /auth/me.
type claimsResponse struct {
	Sub       string   `json:"sub"`
	Scope     string   `json:"scope"`
	Groups    []string `json:"groups"`
	Dept      string   `json:"dept"`
	RiskScore int      `json:"riskScore"`
	Iss       string   `json:"iss"`
	Aud       string   `json:"aud"`
	Exp       string   `json:"exp"`
	Iat       string   `json:"iat"`
}

// handleWhoAmI returns the verified claims of the caller. GET /auth/me.
func (h *APIHandler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	claims, ok := RequireClaims(w, r)
	if !ok {
		return
	}

	groups := claims.Groups
	if groups == nil {
		groups = []string{}
	}
	h.respondJSON(w, http.StatusOK, claimsResponse{
		Sub:       claims.Subject,
		Scope:     claims.Scope,
		Groups:    groups,
		Dept:      claims.Dept,
		RiskScore: claims.RiskScore,
		Iss:       claims.Issuer,
		Aud:       claims.Audience,
		Exp:       claims.ExpiresAt.UTC().Format(time.RFC3339),
		Iat:       claims.IssuedAt.UTC().Format(time.RFC3339),
	})
}
