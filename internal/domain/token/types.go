// Package token contains the domain types for bearer token issuance,
// verification, and the credential records tokens are minted from.
package token

import (
	"strings"
	"time"
)

// Grant types accepted by the token endpoint.
const (
	// GrantClientCredentials authenticates a machine client by id and secret.
	GrantClientCredentials = "client_credentials"
	// GrantPassword authenticates a human user by username and password.
	GrantPassword = "password"
)

// Claims is the decoded, verified view of a bearer token. Subject attributes
// carried in the token (dept, groups, riskScore) seed the subject bag of an
// authorization request when the caller does not override them.
type Claims struct {
	// Subject is the sub claim: client id or username.
	Subject string
	// Scope is the space-joined granted scope set.
	Scope string
	// Dept is the subject's department.
	Dept string
	// Groups are the subject's group memberships.
	Groups []string
	// RiskScore is the subject's standing risk score in [0,100].
	RiskScore int
	// Issuer is the iss claim.
	Issuer string
	// Audience is the aud claim.
	Audience string
	// IssuedAt is the iat claim (UTC).
	IssuedAt time.Time
	// ExpiresAt is the exp claim (UTC).
	ExpiresAt time.Time
}

// Scopes splits the space-joined scope string into its tokens.
func (c Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasGroup returns true if the claims carry the named group.
func (c Claims) HasGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// ClaimsFromMap builds structured Claims from raw decoded token claims.
// Unknown keys are ignored; numeric claims accept the float64 the JSON
// decoder produces.
func ClaimsFromMap(raw map[string]any) Claims {
	c := Claims{
		Subject:  stringClaim(raw, "sub"),
		Scope:    stringClaim(raw, "scope"),
		Dept:     stringClaim(raw, "dept"),
		Issuer:   stringClaim(raw, "iss"),
		Audience: stringClaim(raw, "aud"),
	}
	if v, ok := raw["riskScore"]; ok {
		if f, ok := v.(float64); ok {
			c.RiskScore = int(f)
		}
	}
	if v, ok := raw["groups"]; ok {
		switch groups := v.(type) {
		case []string:
			c.Groups = groups
		case []any:
			for _, g := range groups {
				if s, ok := g.(string); ok {
					c.Groups = append(c.Groups, s)
				}
			}
		}
	}
	if ts, ok := numericClaim(raw, "iat"); ok {
		c.IssuedAt = time.Unix(ts, 0).UTC()
	}
	if ts, ok := numericClaim(raw, "exp"); ok {
		c.ExpiresAt = time.Unix(ts, 0).UTC()
	}
	return c
}

func stringClaim(raw map[string]any, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

func numericClaim(raw map[string]any, key string) (int64, bool) {
	switch n := raw[key].(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// Response is the OAuth2-style body returned by the token endpoint.
type Response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Credential is a static authentication record: a machine client or a human
// user together with the attributes minted into its tokens.
type Credential struct {
	// Subject is the sub claim for tokens issued to this credential.
	Subject string
	// SecretHash is the Argon2id PHC-format hash of the secret or password.
	SecretHash string
	// Scopes are the scope tokens this credential may be granted.
	Scopes []string
	// Dept is the department attribute minted into tokens.
	Dept string
	// Groups are the group memberships minted into tokens.
	Groups []string
	// RiskScore is the standing risk score minted into tokens.
	RiskScore int
}

// AttributeClaims returns the subject-attribute claims minted into a token
// issued for this credential.
func (c *Credential) AttributeClaims() map[string]any {
	return map[string]any{
		"dept":      c.Dept,
		"groups":    c.Groups,
		"riskScore": c.RiskScore,
	}
}

// GrantScopes intersects the requested scope tokens with the credential's
// allowed set. An empty intersection falls back to the read scope so issued
// tokens are never scopeless.
func (c *Credential) GrantScopes(requested []string) []string {
	allowed := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		allowed[s] = struct{}{}
	}

	var granted []string
	for _, s := range requested {
		if _, ok := allowed[s]; ok {
			granted = append(granted, s)
		}
	}
	if len(granted) == 0 {
		return []string{"read"}
	}
	return granted
}
