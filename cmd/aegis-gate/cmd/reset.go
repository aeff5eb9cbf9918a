package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aegis-Gate/Aegisgate/internal/config"
)

var (
	resetIncludeAudit    bool
	resetIncludePolicies bool
	resetForce           bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset AegisGate to a clean state",
	Long: `Reset AegisGate by removing persistent data files.

By default, only the SQLite database (and its WAL sidecars) is removed.
This clears all provisioned users and groups.

On next serve, AegisGate will boot with a fresh store — seeded with the
starter directory in development mode, empty otherwise.

Optional flags:
  --include-policies   Also remove the policy file (regenerated in development)
  --include-audit      Also remove audit log files
  --force              Skip confirmation prompt

Examples:
  # Reset the database only (interactive confirmation)
  aegis-gate reset

  # Reset everything without prompting
  aegis-gate reset --include-policies --include-audit --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludePolicies, "include-policies", false, "Also remove the policy file")
	resetCmd.Flags().BoolVar(&resetIncludeAudit, "include-audit", false, "Also remove audit log files")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigForReset()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Build list of targets to remove.
	type target struct {
		path string
		desc string
	}
	var targets []target

	// Always include the database and its SQLite sidecar files.
	if cfg.Store.DBPath != "" && cfg.Store.DBPath != ":memory:" {
		targets = append(targets, target{cfg.Store.DBPath, "database"})
		targets = append(targets, target{cfg.Store.DBPath + "-wal", "database WAL"})
		targets = append(targets, target{cfg.Store.DBPath + "-shm", "database shared memory"})
	}

	if resetIncludePolicies && cfg.Policy.Path != "" {
		targets = append(targets, target{cfg.Policy.Path, "policy file"})
	}

	if resetIncludeAudit && cfg.Audit.Output != "" && cfg.Audit.Output != "stdout" {
		if dir := parseFileURI(cfg.Audit.Output); dir != "" {
			targets = append(targets, target{dir, "audit directory"})
		}
	}

	// Check what actually exists.
	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}

	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no data files found.")
		return nil
	}

	// Show what will be removed.
	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	// Confirm unless --force.
	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	// Remove targets.
	var errCount int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			errCount++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}

	if errCount > 0 {
		return fmt.Errorf("%d file(s) could not be removed", errCount)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. AegisGate will start fresh on next launch.")
	return nil
}

// loadConfigForReset loads the effective config to discover data file paths.
func loadConfigForReset() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return &config.Config{}, err
	}
	return cfg, nil
}
