package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one monitoring cycle",
	Long: `Run one monitoring cycle: read new log lines since the last
checkpoint, alert on novel errors, and remediate actionable ones.

Intended to be invoked periodically by an external scheduler (cron,
systemd timer); state on disk makes each invocation resume where the
previous one stopped.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.monitor.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"records=%d alerts=%d suppressed=%d rate_limited=%d remediations=%d published=%d\n",
		stats.Records, stats.Alerts, stats.Suppressed,
		stats.RateLimited, stats.Remediations, stats.Published,
	)
	return nil
}
