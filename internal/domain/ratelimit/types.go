// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the parameters of a fixed-window rate limit.
type Config struct {
	// Limit is the number of allowed requests per window.
	Limit int

	// Window is the length of the counting window.
	Window time.Duration
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is the duration until the window resets.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Key returns a structured rate limit key scoping a client to a route.
// Format: "ratelimit:{route}:{client}"
// Example: Key("/auth/token", "192.168.1.1") -> "ratelimit:/auth/token:192.168.1.1"
func Key(route, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s", route, client)
}
