package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Aegis-Gate/Aegisgate/internal/adapter/inbound/httpapi"
	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/auditlog"
	jwtadapter "github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/jwt"
	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/memory"
	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/policyfile"
	"github.com/Aegis-Gate/Aegisgate/internal/adapter/outbound/sqlite"
	"github.com/Aegis-Gate/Aegisgate/internal/config"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/audit"
	"github.com/Aegis-Gate/Aegisgate/internal/domain/identity"
	"github.com/Aegis-Gate/Aegisgate/internal/observability"
	"github.com/Aegis-Gate/Aegisgate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the identity API server",
	Long: `Start the Aegis Gate identity API server.

The server exposes SCIM 2.0 provisioning under /scim/v2, token issuance
under /auth, and ABAC policy evaluation under /authz, all on one HTTP
listener.

Examples:
  # Start with config file settings
  aegis-gate serve

  # Start in development mode (seeded data, generated keys, debug logging)
  aegis-gate serve --dev

  # Start with a specific config file
  aegis-gate --config /path/to/config.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (seeded data, generated keys, debug logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills secret/seed settings in development)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr.
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "aegis-gate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("aegis-gate stopped")
	return nil
}

// run is the main orchestration function that wires all components together.
// It implements the boot sequence: BOOT-01 through BOOT-09.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== BOOT-01: Environment check =====
	if cfg.IsDevelopment() {
		logger.Warn("running in development mode",
			"environment", cfg.Environment,
			"generated_keys_allowed", cfg.JWT.Algorithm == jwtadapter.AlgRS256 && cfg.JWT.PrivateKey == "",
		)
	} else {
		logger.Info("environment", "name", cfg.Environment)
	}

	// ===== BOOT-02: Tracing (optional) =====
	shutdownTracing, err := observability.Init("aegisgate", cfg.Tracing.Enabled, cfg.Tracing.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracing()

	// ===== BOOT-03: SCIM store (SQLite) =====
	if dir := filepath.Dir(cfg.Store.DBPath); cfg.Store.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.NewStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open SCIM store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.Store.SeedDefault {
		if err := seedIdentityData(ctx, store, logger); err != nil {
			return fmt.Errorf("failed to seed identity data: %w", err)
		}
	}

	// ===== BOOT-04: Policy repository =====
	if cfg.Policy.SeedDefault {
		if err := policyfile.EnsureDefaultPolicies(cfg.Policy.Path, logger); err != nil {
			return fmt.Errorf("failed to write default policy file: %w", err)
		}
	}
	policyRepo := policyfile.NewFileRepository(cfg.Policy.Path, logger)
	if err := policyRepo.Load(); err != nil {
		// A present-but-broken policy file at boot is fatal: starting with an
		// empty set here would silently deny everything the file permits.
		return fmt.Errorf("failed to load policies: %w", err)
	}

	// ===== BOOT-05: Token manager =====
	signer, err := jwtadapter.NewManager(jwtadapter.Config{
		Algorithm:          cfg.JWT.Algorithm,
		Secret:             cfg.JWT.Secret,
		PrivateKeyPEM:      cfg.JWT.PrivateKey,
		PublicKeyPEM:       cfg.JWT.PublicKey,
		Issuer:             cfg.JWT.Issuer,
		Audience:           cfg.JWT.Audience,
		DefaultTTL:         time.Duration(cfg.JWT.ExpirationMinutes) * time.Minute,
		AllowGeneratedKeys: cfg.IsDevelopment(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}

	// ===== BOOT-06: Credential store =====
	credentials := memory.NewCredentialStore(logger)
	if err := credentials.SeedDefaults(); err != nil {
		return fmt.Errorf("failed to seed credentials: %w", err)
	}

	// ===== BOOT-07: Audit pipeline =====
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
		logger.Warn("invalid flush_interval, using default", "value", cfg.Audit.FlushInterval, "default", "1s")
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		sendTimeout = 100 * time.Millisecond
		logger.Warn("invalid send_timeout, using default", "value", cfg.Audit.SendTimeout, "default", "100ms")
	}

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// ===== BOOT-08: Services =====
	statsService := service.NewStatsService()

	authzService := service.NewAuthzService(policyRepo, logger,
		service.WithCacheTTL(cfg.CacheTTLDuration()),
		service.WithDecisionRecorder(auditService),
		service.WithDecisionStats(statsService),
	)
	if conflicts, err := authzService.DetectConflicts(ctx); err == nil && len(conflicts) > 0 {
		logger.Warn("policy conflicts detected at boot", "count", len(conflicts))
	}

	authService := service.NewAuthService(signer, credentials, logger,
		service.WithTokenTTL(time.Duration(cfg.JWT.ExpirationMinutes)*time.Minute),
		service.WithUserDirectory(store),
		service.WithAuthRecorder(auditService),
		service.WithTokenStats(statsService),
	)

	scimService := service.NewSCIMService(store, logger,
		service.WithProvisioningRecorder(auditService),
	)

	// ===== BOOT-09: HTTP transport =====
	var rateLimiter *memory.RateLimiter
	if cfg.RateLimit.Enabled {
		cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
		if err != nil {
			cleanupInterval = 5 * time.Minute
			logger.Warn("invalid rate_limit.cleanup_interval, using default",
				"value", cfg.RateLimit.CleanupInterval, "default", "5m")
		}
		maxTTL, err := time.ParseDuration(cfg.RateLimit.MaxTTL)
		if err != nil {
			maxTTL = time.Hour
			logger.Warn("invalid rate_limit.max_ttl, using default",
				"value", cfg.RateLimit.MaxTTL, "default", "1h")
		}
		rateLimiter = memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
		rateLimiter.StartCleanup(ctx)
		defer rateLimiter.Stop()

		logger.Debug("rate limiting enabled",
			"token_per_minute", cfg.RateLimit.TokenPerMinute,
			"evaluate_per_minute", cfg.RateLimit.EvaluatePerMinute,
			"cleanup_interval", cleanupInterval,
			"max_ttl", maxTTL,
		)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httpapi.NewMetrics(registry, statsService)

	healthChecker := httpapi.NewHealthChecker(
		store,
		policyRepo,
		auditService,
		rateLimiter,
		Version,
		cfg.Environment,
	)

	apiHandler := httpapi.NewAPIHandler(
		httpapi.WithAuthService(authService),
		httpapi.WithAuthzService(authzService),
		httpapi.WithSCIMService(scimService),
		httpapi.WithHealthChecker(healthChecker),
		httpapi.WithConfigView(&httpapi.ConfigView{
			Service:             "aegis-gate",
			Version:             Version,
			Environment:         cfg.Environment,
			LogLevel:            cfg.Server.LogLevel,
			JWTAlgorithm:        cfg.JWT.Algorithm,
			JWTIssuer:           cfg.JWT.Issuer,
			JWTAudience:         cfg.JWT.Audience,
			TokenExpirationMins: cfg.JWT.ExpirationMinutes,
			PoliciesPath:        cfg.Policy.Path,
			DBPath:              cfg.Store.DBPath,
			CORSOrigins:         cfg.CORS.AllowedOrigins,
		}),
		httpapi.WithVersion(Version),
		httpapi.WithEnvironment(cfg.Environment),
		httpapi.WithAPILogger(logger),
	)

	transportOpts := []httpapi.Option{
		httpapi.WithAddr(cfg.Server.HTTPAddr),
		httpapi.WithLogger(logger),
		httpapi.WithCORS(cfg.CORS.AllowedOrigins),
		httpapi.WithTokenVerifier(authService),
		httpapi.WithMetricsRegistry(registry),
		httpapi.WithMetrics(metrics),
	}
	if rateLimiter != nil {
		transportOpts = append(transportOpts, httpapi.WithRateLimit(rateLimiter, httpapi.Budgets{
			TokenPerMinute:    cfg.RateLimit.TokenPerMinute,
			EvaluatePerMinute: cfg.RateLimit.EvaluatePerMinute,
			PoliciesPerMinute: cfg.RateLimit.PoliciesPerMinute,
			ReloadPerMinute:   cfg.RateLimit.ReloadPerMinute,
		}, statsService))
	}

	meta, _ := policyRepo.Metadata(ctx)
	userCount, _ := store.CountUsers(ctx)
	logger.Info("aegis-gate starting",
		"version", Version,
		"environment", cfg.Environment,
		"http_addr", cfg.Server.HTTPAddr,
		"jwt_algorithm", cfg.JWT.Algorithm,
		"policies", meta.PoliciesCount,
		"policies_path", cfg.Policy.Path,
		"users", userCount,
		"db_path", cfg.Store.DBPath,
		"rate_limit", cfg.RateLimit.Enabled,
		"audit_output", cfg.Audit.Output,
	)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.Environment, meta.PoliciesCount, userCount)

	transport := httpapi.NewTransport(apiHandler, transportOpts...)
	return transport.Start(ctx)
}

// createAuditStore creates an audit store based on configuration.
// "stdout" streams JSON lines to standard output; "file://<dir>" writes
// rotating JSON-lines files under the given directory.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		logger.Debug("audit output: stdout")
		return auditlog.NewStdoutStore(1000), nil

	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		dir := parseFileURI(cfg.Audit.Output)
		if dir == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", cfg.Audit.Output)
		}
		logger.Debug("audit output: file", "dir", dir)
		return auditlog.NewFileStore(auditlog.FileConfig{
			Dir:           dir,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout' or 'file://dir')", cfg.Audit.Output)
	}
}

// seedUser pairs a starter user with the group it belongs to.
type seedUser struct {
	user  identity.User
	group string
}

// seedIdentityData provisions the starter directory into an empty store.
// A store that already holds users is left untouched, so reseeding after
// a restart is a no-op.
func seedIdentityData(ctx context.Context, store identity.Store, logger *slog.Logger) error {
	count, err := store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		logger.Debug("identity store already populated, skipping seed", "users", count)
		return nil
	}

	seeds := []seedUser{
		{
			user: identity.User{
				ID:        "usr_jdoe",
				UserName:  "jdoe",
				Name:      identity.Name{GivenName: "John", FamilyName: "Doe"},
				Emails:    []identity.Email{{Value: "john.doe@company.com", Type: "work", Primary: true}},
				Active:    true,
				Groups:    []string{"HR_READERS"},
				Dept:      "HR",
				RiskScore: 20,
			},
			group: "HR_READERS",
		},
		{
			user: identity.User{
				ID:        "usr_agonzalez",
				UserName:  "agonzalez",
				Name:      identity.Name{GivenName: "Ana", FamilyName: "González"},
				Emails:    []identity.Email{{Value: "ana.gonzalez@company.com", Type: "work", Primary: true}},
				Active:    true,
				Groups:    []string{"FIN_APPROVERS"},
				Dept:      "Finance",
				RiskScore: 30,
			},
			group: "FIN_APPROVERS",
		},
		{
			user: identity.User{
				ID:        "usr_mrios",
				UserName:  "mrios",
				Name:      identity.Name{GivenName: "Miguel", FamilyName: "Ríos"},
				Emails:    []identity.Email{{Value: "miguel.rios@company.com", Type: "work", Primary: true}},
				Active:    false, // deprovisioned: exercises the password-grant inactive check
				Groups:    []string{"ADMINS"},
				Dept:      "IT",
				RiskScore: 15,
			},
			group: "ADMINS",
		},
	}

	groupIDs := map[string]string{
		"HR_READERS":    "grp_hr_readers",
		"FIN_APPROVERS": "grp_fin_appr",
		"ADMINS":        "grp_admins",
	}
	members := make(map[string][]string, len(groupIDs))

	for i := range seeds {
		if err := store.CreateUser(ctx, &seeds[i].user); err != nil {
			if errors.Is(err, identity.ErrUserExists) {
				continue
			}
			return fmt.Errorf("seed user %s: %w", seeds[i].user.UserName, err)
		}
		members[seeds[i].group] = append(members[seeds[i].group], seeds[i].user.ID)
	}

	for name, id := range groupIDs {
		group := identity.Group{
			ID:          id,
			DisplayName: name,
			Members:     members[name],
		}
		if err := store.CreateGroup(ctx, &group); err != nil && !errors.Is(err, identity.ErrGroupExists) {
			return fmt.Errorf("seed group %s: %w", name, err)
		}
	}

	logger.Info("identity store seeded", "users", len(seeds), "groups", len(groupIDs))
	return nil
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// addresses, environment, and resource counts.
func printBanner(version, httpAddr, environment string, policyCount, userCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	baseURL := fmt.Sprintf("http://localhost%s", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		baseURL = fmt.Sprintf("http://%s", httpAddr)
	}

	envStr := green + environment + reset
	if environment == "development" {
		envStr = yellow + environment + reset + dim + " (seeded data)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s AegisGate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "API:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s/auth/token\n", "Tokens:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s/authz/evaluate\n", "Authorization:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s/scim/v2\n", "Provisioning:", baseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Environment:", envStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d loaded\n", "Policies:", policyCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d provisioned\n", "Users:", userCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// parseFileURI extracts the file path from a "file:///path" URI.
// On Windows, handles file:///C:/path → C:/path (strips extra leading slash).
func parseFileURI(uri string) string {
	const prefix = "file://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		path := uri[len(prefix):]
		// On Windows, file:///C:/path produces /C:/path after prefix trim.
		// Remove the leading slash before a drive letter.
		if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
		return path
	}
	return ""
}

// pidFilePath returns the standard location for the AegisGate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".aegisgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "aegisgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
