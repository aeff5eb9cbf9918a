package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Aegis Gate specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// audit_output: validates "stdout" or "file://<absolute-path>"
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout" or "file://<absolute-path>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	// "stdout" is always valid
	if output == "stdout" {
		return true
	}

	// "file://<path>" requires an absolute path
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}

	return false
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: signing key material per algorithm and environment
	if err := c.validateSigningKeys(); err != nil {
		return err
	}

	// Duration fields parse eagerly so a typo fails at startup, not mid-request
	if err := c.validateDurations(); err != nil {
		return err
	}

	return nil
}

// validateSigningKeys enforces per-algorithm key requirements.
// Development tolerates missing material: HS256 gets a dev secret from
// SetDevDefaults, RS256 generates an in-process keypair with a logged warning.
func (c *Config) validateSigningKeys() error {
	switch c.JWT.Algorithm {
	case "HS256":
		if c.JWT.Secret == "" && !c.IsDevelopment() {
			return errors.New("jwt: secret is required for HS256 outside development")
		}
		if c.IsProduction() && len(c.JWT.Secret) < 32 {
			return errors.New("jwt: secret must be at least 32 bytes in production")
		}
	case "RS256":
		if !c.IsDevelopment() && (c.JWT.PrivateKey == "" || c.JWT.PublicKey == "") {
			return errors.New("jwt: private_key and public_key are required for RS256 outside development")
		}
	}
	return nil
}

// validateDurations parses every duration-typed string field.
func (c *Config) validateDurations() error {
	durations := map[string]string{
		"policy.cache_ttl":            c.Policy.CacheTTL,
		"audit.flush_interval":        c.Audit.FlushInterval,
		"audit.send_timeout":          c.Audit.SendTimeout,
		"rate_limit.cleanup_interval": c.RateLimit.CleanupInterval,
		"rate_limit.max_ttl":          c.RateLimit.MaxTTL,
	}
	for field, value := range durations {
		if value == "" || value == "0" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q", field, value)
		}
	}
	return nil
}

// CacheTTLDuration returns the parsed decision cache TTL.
// Falls back to 5 minutes on an unset value; Validate rejects malformed ones.
func (c *Config) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Policy.CacheTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
