// Package config provides configuration types for Aegis Gate.
//
// Configuration is file-based (YAML) with environment variable overrides.
// The flat JWT_*, POLICIES_PATH, DB_PATH, and ENVIRONMENT variables are
// honoured alongside the AEGIS_GATE_* prefixed forms so deployments migrating
// from the reference service keep working without changes.
package config

import "github.com/spf13/viper"

// Config is the top-level configuration for Aegis Gate.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Environment selects deployment hardening: "development", "staging",
	// or "production". Production enforces key-strength requirements.
	Environment string `yaml:"environment" mapstructure:"environment" validate:"omitempty,oneof=development staging production"`

	// JWT configures token signing and verification.
	JWT JWTConfig `yaml:"jwt" mapstructure:"jwt"`

	// Policy configures the ABAC policy file and decision cache.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Store configures the SCIM persistence backend.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Audit configures where audit logs are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures per-route request rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// CORS configures cross-origin request handling.
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`

	// DevMode enables development features (debug logging, generated keys).
	// Forces Environment to "development".
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// Only plain HTTP is supported; use a reverse proxy for TLS.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8000", "0.0.0.0:8000").
	// Defaults to "127.0.0.1:8000" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	// Algorithm selects the signing algorithm.
	// Valid values: "HS256" (shared secret) or "RS256" (RSA keypair).
	Algorithm string `yaml:"algorithm" mapstructure:"algorithm" validate:"omitempty,oneof=HS256 RS256"`

	// Secret is the HS256 shared secret.
	// In production it must be at least 32 bytes.
	Secret string `yaml:"secret" mapstructure:"secret"`

	// PrivateKey is the RS256 PEM-encoded private key.
	// A base64-wrapped PEM value is decoded automatically.
	PrivateKey string `yaml:"private_key" mapstructure:"private_key"`

	// PublicKey is the RS256 PEM-encoded public key.
	// A base64-wrapped PEM value is decoded automatically.
	PublicKey string `yaml:"public_key" mapstructure:"public_key"`

	// Issuer is the iss claim stamped into issued tokens and required
	// on verification. Defaults to "aegis-gate".
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// Audience is the aud claim stamped into issued tokens and required
	// on verification. Defaults to "identity-api".
	Audience string `yaml:"audience" mapstructure:"audience"`

	// ExpirationMinutes is the token lifetime. Defaults to 30.
	ExpirationMinutes int `yaml:"expiration_minutes" mapstructure:"expiration_minutes" validate:"omitempty,min=1"`
}

// PolicyConfig configures the ABAC policy source and decision cache.
type PolicyConfig struct {
	// Path is the policy file location (JSON). A missing file is not
	// fatal: the server boots with an empty policy set and every request
	// falls through to the default Deny.
	Path string `yaml:"path" mapstructure:"path"`

	// CacheTTL is how long a cached decision stays valid (e.g., "5m").
	// Defaults to "5m".
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl" validate:"omitempty"`

	// SeedDefault writes a starter policy file to Path when the file does
	// not exist. Applies in development only.
	SeedDefault bool `yaml:"seed_default" mapstructure:"seed_default"`
}

// StoreConfig configures SCIM persistence.
type StoreConfig struct {
	// DBPath is the SQLite database file. Defaults to "aegis-gate.db" in
	// the working directory. ":memory:" gives a throwaway store.
	DBPath string `yaml:"db_path" mapstructure:"db_path"`

	// SeedDefault provisions a demo user set into an empty store.
	// Applies in development only.
	SeedDefault bool `yaml:"seed_default" mapstructure:"seed_default"`
}

// AuditConfig configures audit log output.
// Output is stdout or a file path; file output rotates by size.
type AuditConfig struct {
	// Output specifies where audit logs are written.
	// Valid values: "stdout" or "file:///absolute/path/to/audit.log"
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Larger batches are more efficient but increase latency.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s", "500ms").
	// Shorter intervals reduce data loss risk but increase I/O.
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when channel is full (e.g., "100ms", "0").
	// "0" or empty = drop immediately (no blocking).
	// Non-zero = block up to this duration before dropping.
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the percentage (0-100) at which to log warnings.
	// When channel depth exceeds this percentage, a warning is logged (rate-limited).
	// Set to 0 to disable warnings. Defaults to 80 if not specified.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// MaxFileSizeMB is the maximum size per audit file in megabytes before
	// rotation. Only applies to file output. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// RateLimitConfig configures fixed-window per-IP rate limiting.
// Each sensitive route carries its own budget.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// TokenPerMinute caps POST /auth/token requests per IP.
	// Defaults to 10.
	TokenPerMinute int `yaml:"token_per_minute" mapstructure:"token_per_minute" validate:"omitempty,min=1"`

	// EvaluatePerMinute caps POST /authz/evaluate requests per IP.
	// Defaults to 100.
	EvaluatePerMinute int `yaml:"evaluate_per_minute" mapstructure:"evaluate_per_minute" validate:"omitempty,min=1"`

	// PoliciesPerMinute caps GET /authz/policies requests per IP.
	// Defaults to 50.
	PoliciesPerMinute int `yaml:"policies_per_minute" mapstructure:"policies_per_minute" validate:"omitempty,min=1"`

	// ReloadPerMinute caps POST /authz/policies/reload requests per IP.
	// Defaults to 10.
	ReloadPerMinute int `yaml:"reload_per_minute" mapstructure:"reload_per_minute" validate:"omitempty,min=1"`

	// CleanupInterval is how often to clean up expired rate limit entries (e.g., "5m").
	// Defaults to "5m" if not specified.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a rate limit entry before removal (e.g., "1h").
	// Defaults to "1h" if not specified.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// CORSConfig configures cross-origin request handling.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the API.
	// Defaults to ["*"].
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	// Enabled turns span export on. Defaults to off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// SampleRate is the fraction of requests to trace in [0,1].
	// Defaults to 1.0 when tracing is enabled.
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate" validate:"omitempty,min=0,max=1"`
}

// IsProduction reports whether the production hardening rules apply.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment reports whether development conveniences apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running aegis-gate with no config file at all.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if c.DevMode {
		c.Environment = "development"
		c.Server.LogLevel = "debug"
	}
	if !c.IsDevelopment() {
		return
	}

	// A fixed development secret so the HS256 path works out of the box.
	// Production validation rejects an unset secret.
	if c.JWT.Algorithm == "HS256" && c.JWT.Secret == "" {
		c.JWT.Secret = "dev-secret-key-change-in-production"
	}

	// Seed starter data unless explicitly configured otherwise.
	if !viper.IsSet("policy.seed_default") {
		c.Policy.SeedDefault = true
	}
	if !viper.IsSet("store.seed_default") {
		c.Store.SeedDefault = true
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Server defaults — bind to localhost only for security.
	// Users who need network access must explicitly set http_addr: ":8000" or "0.0.0.0:8000".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Environment == "" {
		c.Environment = "development"
	}

	// JWT defaults
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "HS256"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "aegis-gate"
	}
	if c.JWT.Audience == "" {
		c.JWT.Audience = "identity-api"
	}
	if c.JWT.ExpirationMinutes == 0 {
		c.JWT.ExpirationMinutes = 30
	}

	// Policy defaults
	if c.Policy.Path == "" {
		c.Policy.Path = "policies.json"
	}
	if c.Policy.CacheTTL == "" {
		c.Policy.CacheTTL = "5m"
	}

	// Store defaults
	if c.Store.DBPath == "" {
		c.Store.DBPath = "aegis-gate.db"
	}

	// Audit defaults
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}

	// Rate limit defaults — enabled by default for security.
	// Only apply the default when the user hasn't explicitly set it in YAML/env.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.TokenPerMinute == 0 {
		c.RateLimit.TokenPerMinute = 10
	}
	if c.RateLimit.EvaluatePerMinute == 0 {
		c.RateLimit.EvaluatePerMinute = 100
	}
	if c.RateLimit.PoliciesPerMinute == 0 {
		c.RateLimit.PoliciesPerMinute = 50
	}
	if c.RateLimit.ReloadPerMinute == 0 {
		c.RateLimit.ReloadPerMinute = 10
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	// CORS defaults
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}

	// Tracing defaults
	if c.Tracing.Enabled && c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}
}
