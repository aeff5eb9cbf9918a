package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8000")
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.JWT.Algorithm != "HS256" {
		t.Errorf("JWT.Algorithm = %q, want HS256", cfg.JWT.Algorithm)
	}
	if cfg.JWT.Issuer != "aegis-gate" {
		t.Errorf("JWT.Issuer = %q, want aegis-gate", cfg.JWT.Issuer)
	}
	if cfg.JWT.Audience != "identity-api" {
		t.Errorf("JWT.Audience = %q, want identity-api", cfg.JWT.Audience)
	}
	if cfg.JWT.ExpirationMinutes != 30 {
		t.Errorf("JWT.ExpirationMinutes = %d, want 30", cfg.JWT.ExpirationMinutes)
	}
	if cfg.Policy.Path != "policies.json" {
		t.Errorf("Policy.Path = %q, want policies.json", cfg.Policy.Path)
	}
	if cfg.Policy.CacheTTL != "5m" {
		t.Errorf("Policy.CacheTTL = %q, want 5m", cfg.Policy.CacheTTL)
	}
	if cfg.Store.DBPath != "aegis-gate.db" {
		t.Errorf("Store.DBPath = %q, want aegis-gate.db", cfg.Store.DBPath)
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stdout")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
}

func TestConfig_SetDefaults_RateLimits(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.RateLimit.TokenPerMinute != 10 {
		t.Errorf("TokenPerMinute = %d, want 10", cfg.RateLimit.TokenPerMinute)
	}
	if cfg.RateLimit.EvaluatePerMinute != 100 {
		t.Errorf("EvaluatePerMinute = %d, want 100", cfg.RateLimit.EvaluatePerMinute)
	}
	if cfg.RateLimit.PoliciesPerMinute != 50 {
		t.Errorf("PoliciesPerMinute = %d, want 50", cfg.RateLimit.PoliciesPerMinute)
	}
	if cfg.RateLimit.ReloadPerMinute != 10 {
		t.Errorf("ReloadPerMinute = %d, want 10", cfg.RateLimit.ReloadPerMinute)
	}
	if cfg.RateLimit.CleanupInterval != "5m" {
		t.Errorf("CleanupInterval = %q, want 5m", cfg.RateLimit.CleanupInterval)
	}
	if cfg.RateLimit.MaxTTL != "1h" {
		t.Errorf("MaxTTL = %q, want 1h", cfg.RateLimit.MaxTTL)
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:      ServerConfig{HTTPAddr: ":9090"},
		Environment: "production",
		JWT: JWTConfig{
			Algorithm:         "RS256",
			Issuer:            "custom-issuer",
			ExpirationMinutes: 60,
		},
		Audit: AuditConfig{
			Output: "file:///var/log/custom.log",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			EvaluatePerMinute: 500,
		},
	}

	cfg.SetDefaults()

	// Existing values should be preserved
	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Environment != "production" {
		t.Errorf("Environment was overwritten: got %q", cfg.Environment)
	}
	if cfg.JWT.Algorithm != "RS256" {
		t.Errorf("JWT.Algorithm was overwritten: got %q", cfg.JWT.Algorithm)
	}
	if cfg.JWT.Issuer != "custom-issuer" {
		t.Errorf("JWT.Issuer was overwritten: got %q", cfg.JWT.Issuer)
	}
	if cfg.JWT.ExpirationMinutes != 60 {
		t.Errorf("JWT.ExpirationMinutes was overwritten: got %d", cfg.JWT.ExpirationMinutes)
	}
	if cfg.Audit.Output != "file:///var/log/custom.log" {
		t.Errorf("Audit.Output was overwritten: got %q", cfg.Audit.Output)
	}
	if cfg.RateLimit.EvaluatePerMinute != 500 {
		t.Errorf("EvaluatePerMinute was overwritten: got %d", cfg.RateLimit.EvaluatePerMinute)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Environment != "development" {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.JWT.Secret == "" {
		t.Error("dev mode should provide an HS256 secret")
	}
}

func TestConfig_SetDevDefaults_NonDevLeavesSecretAlone(t *testing.T) {
	t.Parallel()

	cfg := Config{Environment: "production"}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.JWT.Secret != "" {
		t.Errorf("production secret injected: %q", cfg.JWT.Secret)
	}
	if cfg.Policy.SeedDefault || cfg.Store.SeedDefault {
		t.Error("seeding must not default on outside development")
	}
}

func TestConfig_EnvironmentPredicates(t *testing.T) {
	t.Parallel()

	prod := Config{Environment: "production"}
	if !prod.IsProduction() || prod.IsDevelopment() {
		t.Error("production predicates wrong")
	}

	dev := Config{Environment: "development"}
	if dev.IsProduction() || !dev.IsDevelopment() {
		t.Error("development predicates wrong")
	}

	staging := Config{Environment: "staging"}
	if staging.IsProduction() || staging.IsDevelopment() {
		t.Error("staging predicates wrong")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aegis-gate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aegis-gate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "aegis-gate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "aegis-gate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "aegis-gate.yaml")
	ymlPath := filepath.Join(dir, "aegis-gate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8000\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
