// Package cmd provides the CLI commands for Aegis Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aegis-Gate/Aegisgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aegis-gate",
	Short: "Aegis Gate - identity and access microservice",
	Long: `Aegis Gate is an identity and access microservice: SCIM 2.0 user and
group provisioning, OAuth2-style token issuance, and attribute-based
access control (ABAC) over JSON policy files.

Quick start:
  1. Create a config file: aegis-gate.yaml (optional in development)
  2. Run: aegis-gate serve

Configuration:
  Config is loaded from aegis-gate.yaml in the current directory,
  $HOME/.aegis-gate/, or /etc/aegis-gate/.

  Environment variables can override config values with the AEGIS_GATE_ prefix.
  Example: AEGIS_GATE_SERVER_HTTP_ADDR=:9090

  The flat variables JWT_SECRET, JWT_ALGORITHM, JWT_PRIVATE_KEY,
  JWT_PUBLIC_KEY, JWT_ISSUER, JWT_AUDIENCE, JWT_EXPIRATION_MINUTES,
  POLICIES_PATH, DB_PATH, and ENVIRONMENT are honoured as well.

Commands:
  serve       Start the identity API server
  stop        Stop the running server
  reset       Reset to clean state (remove database and generated files)
  config      Print the effective configuration
  keygen      Generate signing key material (RSA keypair or HS256 secret)
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aegis-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
