package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove superseded per-day state files",
	Long: `Remove checkpoint, dedup and quota files older than the
configured retention (default 7 days). The scan cycle also purges
opportunistically; this command exists for manual housekeeping.`,
	Args: cobra.NoArgs,
	RunE: runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.store.Purge(time.Now(), a.cfg.State.Retention.Std())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d state files\n", removed)
	return nil
}
