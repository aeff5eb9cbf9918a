package config

import (
	"strings"
	"testing"
	"time"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		Environment: "development",
		JWT:         JWTConfig{Algorithm: "HS256", Secret: "dev-secret"},
		Audit:       AuditConfig{Output: "stdout"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidEnvironment(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Environment = "qa"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Environment") {
		t.Errorf("error = %q, want to contain 'Environment'", err.Error())
	}
}

func TestValidate_InvalidAlgorithm(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.JWT.Algorithm = "ES256"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Algorithm") {
		t.Errorf("error = %q, want to contain 'Algorithm'", err.Error())
	}
}

func TestValidate_ProductionShortSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Environment = "production"
	cfg.JWT.Secret = "too-short"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "32 bytes") {
		t.Errorf("error = %q, want to mention the 32 byte minimum", err.Error())
	}
}

func TestValidate_ProductionLongSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Environment = "production"
	cfg.JWT.Secret = strings.Repeat("s", 32)

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_StagingRequiresSecret(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Environment = "staging"
	cfg.JWT.Secret = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "secret is required") {
		t.Errorf("error = %q, want to contain 'secret is required'", err.Error())
	}
}

func TestValidate_RS256RequiresKeysOutsideDev(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Environment = "production"
	cfg.JWT.Algorithm = "RS256"
	cfg.JWT.Secret = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "private_key") {
		t.Errorf("error = %q, want to mention private_key", err.Error())
	}

	// Development tolerates absent keys: the signer generates a dev keypair.
	cfg.Environment = "development"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() in development unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	// Error message contains "Audit.Output" and mentions valid formats
	errStr := err.Error()
	if !strings.Contains(errStr, "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", errStr)
	}
}

func TestValidate_ValidAuditOutputs(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()

	cfg.Audit.Output = "stdout"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() stdout unexpected error: %v", err)
	}

	cfg.Audit.Output = "file:///var/log/aegis-gate/audit.log"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() file output unexpected error: %v", err)
	}
}

func TestValidate_RelativeFileAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/audit.log"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for relative file path")
	}
}

func TestValidate_BadDuration(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policy.CacheTTL = "five minutes"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "policy.cache_ttl") {
		t.Errorf("error = %q, want to contain 'policy.cache_ttl'", err.Error())
	}
}

func TestValidate_BadHTTPAddr(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.HTTPAddr = "not a hostport"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for malformed http_addr")
	}
}

func TestCacheTTLDuration(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policy.CacheTTL = "90s"
	if got := cfg.CacheTTLDuration(); got != 90*time.Second {
		t.Errorf("CacheTTLDuration() = %v, want 90s", got)
	}

	cfg.Policy.CacheTTL = ""
	if got := cfg.CacheTTLDuration(); got != 5*time.Minute {
		t.Errorf("CacheTTLDuration() fallback = %v, want 5m", got)
	}
}
