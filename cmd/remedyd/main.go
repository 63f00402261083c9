// Remedyd watches a service's per-day JSON log files, deduplicates and
// diagnoses new errors, and drives gated automated remediation: branch,
// fix, validate, and open a draft pull request for human review.
//
// Configuration comes from a YAML file plus REMEDYD_* environment
// variables. See internal/config for the full schema.
//
// Usage:
//
//	# One monitoring cycle
//	remedyd scan --config remedyd.yaml
//
//	# Periodic cycles with an ops endpoint
//	remedyd daemon --config remedyd.yaml
//
//	# Run the fix pipeline on a saved diagnostic report
//	remedyd remediate report.json
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "remedyd",
	Short:        "Log monitoring and gated auto-remediation",
	Long:         `remedyd tails per-day JSON log files, alerts on new errors with AI diagnosis, and opens draft pull requests for fixes that survive the build/test/lint gate.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(remediateCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(versionCmd)
}
