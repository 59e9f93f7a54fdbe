package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	// Release version, used as the telemetry service version.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "supervisord",
		Short: "Supervisord - Edge Device Reconciliation Supervisor",
		Long: `Supervisord keeps an edge device converged on its cloud-declared target
state. It polls the control plane for a target document, diffs it against
the device's persisted state, plans the minimal set of changes and drives
Modbus sensors and Docker containers to match.

Features:
  - Declarative target documents validated with CUE schemas
  - Local target file override for offline operation
  - Modbus/TCP sensor and Docker container adapters
  - Rego policy gating of planned changes
  - Crash-safe SQLite state snapshots and pass history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/supervisord/config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
