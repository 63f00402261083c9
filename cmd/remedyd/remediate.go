package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/diagnose"
)

var remediateCmd = &cobra.Command{
	Use:   "remediate [report.json]",
	Short: "Run the fix pipeline on a saved diagnostic report",
	Long: `Run the remediation pipeline on a diagnostic report read from a
file or stdin.

The report must be the JSON shape the diagnostic service produces, with
auto_fixable set and a non-empty fix_suggestion. Useful for replaying a
report whose automated run failed, or for manually triggering a fix.

Examples:

  remedyd remediate report.json
  cat report.json | remedyd remediate -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRemediate,
}

func runRemediate(cmd *cobra.Command, args []string) error {
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	report, err := loadReport(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.orch == nil {
		return errors.New("remediation is not configured: git.repo_path, fixer.command and github.token are required")
	}

	out := a.orch.Run(cmd.Context(), report)
	if !out.Succeeded() {
		return fmt.Errorf("remediation failed: %s", out.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "opened %s (branch %s)\n", out.PullRequestURL, out.Branch)
	return nil
}

// loadReport reads a diagnostic report from path, or from stdin when
// path is "-".
func loadReport(path string, stdin io.Reader) (*diagnose.Report, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var report diagnose.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("malformed diagnostic report: %w", err)
	}
	return &report, nil
}
