package ratelimit

import "context"

// Limiter is the interface for rate limiting operations.
//
// Implementations count requests per key in fixed windows: the first request
// for a key opens a window, requests beyond the limit are refused until the
// window expires, and an expired window resets the count. Fixed windows match
// the per-minute route budgets this service enforces and keep refusal headers
// simple: RetryAfter is always the time left in the current window.
//
// The interface is storage-agnostic, allowing implementations backed by an
// in-memory store or an external one.
type Limiter interface {
	// Allow checks if a request identified by key is allowed under the given
	// config, atomically counting the request against the current window.
	//
	// The key should be a structured identifier created by Key. If the
	// request is refused, RetryAfter in the result indicates when the window
	// resets.
	Allow(ctx context.Context, key string, config Config) (Result, error)
}
