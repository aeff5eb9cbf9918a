// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with correlation_id fields.
type LoggerKey struct{}

// ClaimsKey is the context key type for verified token claims.
// Set by the gatekeeper middleware after successful bearer verification.
type ClaimsKey struct{}

// AuthenticatedKey is the context key type for the per-request authentication flag.
// True only when the gatekeeper verified a bearer token for this request.
type AuthenticatedKey struct{}

// CorrelationIDKey is the context key type for the per-request correlation ID.
type CorrelationIDKey struct{}

// RealIPKey is the context key type for the resolved client IP address.
type RealIPKey struct{}
