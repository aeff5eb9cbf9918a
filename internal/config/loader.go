// Package config provides configuration loading for Aegis Gate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for aegis-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("aegis-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: AEGIS_GATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("AEGIS_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for an aegis-gate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "aegis-gate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".aegis-gate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\aegis-gate (typically C:\ProgramData\aegis-gate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "aegis-gate"))
		}
	} else {
		paths = append(paths, "/etc/aegis-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for aegis-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "aegis-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// This enables overriding nested config values via environment variables.
// Example: AEGIS_GATE_SERVER_HTTP_ADDR overrides server.http_addr
//
// The JWT, policy, store, and environment keys also accept the flat variable
// names used by the reference deployment (JWT_SECRET, POLICIES_PATH, DB_PATH,
// ENVIRONMENT, ...). The prefixed form wins when both are set.
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")

	// Environment
	_ = viper.BindEnv("environment", "AEGIS_GATE_ENVIRONMENT", "ENVIRONMENT")

	// JWT config
	_ = viper.BindEnv("jwt.algorithm", "AEGIS_GATE_JWT_ALGORITHM", "JWT_ALGORITHM")
	_ = viper.BindEnv("jwt.secret", "AEGIS_GATE_JWT_SECRET", "JWT_SECRET")
	_ = viper.BindEnv("jwt.private_key", "AEGIS_GATE_JWT_PRIVATE_KEY", "JWT_PRIVATE_KEY")
	_ = viper.BindEnv("jwt.public_key", "AEGIS_GATE_JWT_PUBLIC_KEY", "JWT_PUBLIC_KEY")
	_ = viper.BindEnv("jwt.issuer", "AEGIS_GATE_JWT_ISSUER", "JWT_ISSUER")
	_ = viper.BindEnv("jwt.audience", "AEGIS_GATE_JWT_AUDIENCE", "JWT_AUDIENCE")
	_ = viper.BindEnv("jwt.expiration_minutes", "AEGIS_GATE_JWT_EXPIRATION_MINUTES", "JWT_EXPIRATION_MINUTES")

	// Policy config
	_ = viper.BindEnv("policy.path", "AEGIS_GATE_POLICY_PATH", "POLICIES_PATH")
	_ = viper.BindEnv("policy.cache_ttl")

	// Store config
	_ = viper.BindEnv("store.db_path", "AEGIS_GATE_STORE_DB_PATH", "DB_PATH")

	// Audit config
	_ = viper.BindEnv("audit.output")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.token_per_minute")
	_ = viper.BindEnv("rate_limit.evaluate_per_minute")
	_ = viper.BindEnv("rate_limit.policies_per_minute")
	_ = viper.BindEnv("rate_limit.reload_per_minute")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_ttl")

	// Note: cors.allowed_origins is an array, complex to override via env
	// Users should use config file for these

	// Tracing config
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.sample_rate")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only.
		// This allows running with pure environment variable configuration.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
