package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/ratelimit"
)

// window tracks the request count for a single key.
type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter implements ratelimit.Limiter with fixed windows in memory.
// Thread-safe for concurrent access. Includes background cleanup to prevent
// unbounded growth of the key map.
type RateLimiter struct {
	windows         map[string]*window
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
	now             func() time.Time
}

// NewRateLimiter creates an in-memory rate limiter with default cleanup
// settings: cleanup every 5 minutes, keys removed after 1 hour of inactivity.
func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 1*time.Hour)
}

// NewRateLimiterWithConfig creates an in-memory rate limiter with custom
// cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		windows:         make(map[string]*window),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		now:             time.Now,
	}
}

// Allow counts a request against the key's current window. The first request
// for a key, or the first after a window expires, opens a fresh window; a
// request beyond the limit is refused without advancing the count.
func (r *RateLimiter) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if config.Limit <= 0 {
		config.Limit = 1
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}

	w, ok := r.windows[key]
	if !ok || now.After(w.resetAt) {
		r.windows[key] = &window{count: 1, resetAt: now.Add(config.Window)}
		return ratelimit.Result{Allowed: true, Remaining: config.Limit - 1}, nil
	}

	if w.count >= config.Limit {
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.resetAt.Sub(now),
		}, nil
	}

	w.count++
	return ratelimit.Result{Allowed: true, Remaining: config.Limit - w.count}, nil
}

// StartCleanup starts the background cleanup goroutine. The goroutine
// periodically removes windows that expired more than maxTTL ago. It stops
// when ctx is cancelled or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes windows that expired more than maxTTL ago.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0

	for key, w := range r.windows {
		if w.resetAt.Before(cutoff) {
			delete(r.windows, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.windows))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*RateLimiter)(nil)
