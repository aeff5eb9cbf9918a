package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aegis-Gate/Aegisgate/internal/domain/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Transport is the inbound adapter serving the identity API over HTTP.
type Transport struct {
	api         *APIHandler
	server      *http.Server
	addr        string
	corsOrigins []string
	verifier    TokenVerifier
	registry    *prometheus.Registry
	metrics     *Metrics
	rateLimiter ratelimit.Limiter
	budgets     Budgets
	rateStats   RateLimitStats
	logger      *slog.Logger
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8000" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithCORS sets the origins allowed to call the API from a browser.
// If empty, no CORS headers are emitted.
func WithCORS(origins []string) Option {
	return func(t *Transport) {
		t.corsOrigins = origins
	}
}

// WithTokenVerifier enables bearer token verification on protected routes.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(t *Transport) {
		t.verifier = v
	}
}

// WithMetricsRegistry sets the Prometheus registry backing /metrics.
// If not set, Start creates one with the standard process collectors.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(t *Transport) {
		t.registry = reg
	}
}

// WithMetrics sets a pre-built metrics sink, allowing it to be shared with
// the services. If not set, Start creates one on the registry.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithRateLimit enables per-route request budgets. stats may be nil.
func WithRateLimit(limiter ratelimit.Limiter, budgets Budgets, stats RateLimitStats) Option {
	return func(t *Transport) {
		t.rateLimiter = limiter
		t.budgets = budgets
		t.rateStats = stats
	}
}

// NewTransport creates a Transport serving the given API handler.
func NewTransport(api *APIHandler, opts ...Option) *Transport {
	t := &Transport{
		api:    api,
		addr:   "127.0.0.1:8000",
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *Transport) Start(ctx context.Context) error {
	reg := t.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(reg, nil)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	// Favicon handler to prevent browser 500 errors
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/", t.api.Routes())

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - record duration and status (MUST be outermost to capture full duration)
	// 2. CorrelationID - propagate X-Correlation-ID and enrich logger
	// 3. RealIP - extract client IP from X-Forwarded-For
	// 4. CORS - browser cross-origin policy
	// 5. RateLimit - per-route request budgets
	// 6. Gatekeeper - bearer token verification
	var handler http.Handler = mux
	if t.verifier != nil {
		handler = Gatekeeper(t.verifier, t.logger)(handler)
	}
	if t.rateLimiter != nil {
		handler = RateLimitMiddleware(t.rateLimiter, t.budgets, t.rateStats, t.logger)(handler)
	}
	if len(t.corsOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: t.corsOrigins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(handler)
	}
	handler = RealIP(handler)
	handler = CorrelationID(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel for server errors
	errCh := make(chan error, 1)

	// Start server in goroutine
	go func() {
		t.logger.Info("starting HTTP server", "addr", t.addr)
		err := t.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
