package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aegis-Gate/Aegisgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML after applying the config
file, environment variables, and defaults.

Secrets and key material are redacted.

Examples:
  # Show the configuration the server would boot with
  aegis-gate config

  # Show the configuration from a specific file
  aegis-gate --config /path/to/config.yaml config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDevDefaults()

	// Redact secrets before printing. Presence is still visible.
	redacted := *cfg
	redacted.JWT.Secret = redact(cfg.JWT.Secret)
	redacted.JWT.PrivateKey = redact(cfg.JWT.PrivateKey)
	redacted.JWT.PublicKey = redact(cfg.JWT.PublicKey)

	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(os.Stderr, "# config file: %s\n", file)
	} else {
		fmt.Fprintln(os.Stderr, "# config file: none (defaults + environment)")
	}

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// redact replaces a non-empty secret with a placeholder.
func redact(value string) string {
	if value == "" {
		return ""
	}
	return "<redacted>"
}
