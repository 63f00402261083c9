// Package pipeline runs the build/test/lint validation gate over the
// working tree.
//
// The gate is the real safety boundary of the remediation pipeline: a
// proposed fix only survives if the compile step, the test suite and the
// lint step all pass. Any single failing stage fails the whole gate.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Stage names reported on gate failure.
const (
	StageBuild = "build"
	StageTest  = "test"
	StageLint  = "lint"
)

// Result is the outcome of one gate run.
type Result struct {
	Passed bool

	// FailedStage names the first failing stage, empty on success.
	FailedStage string

	// Output is the combined output of the failing stage, truncated.
	Output string
}

// Gate executes the configured validation commands sequentially.
type Gate struct {
	repoDir string
	stages  []stage
	logger  *zap.Logger
}

type stage struct {
	name    string
	command string
}

// New creates a gate running in the given repository root.
func New(cfg config.PipelineConfig, repoDir string, logger *zap.Logger) (*Gate, error) {
	if cfg.BuildCommand == "" || cfg.TestCommand == "" || cfg.LintCommand == "" {
		return nil, errors.New("build, test and lint commands are all required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		repoDir: repoDir,
		stages: []stage{
			{StageBuild, cfg.BuildCommand},
			{StageTest, cfg.TestCommand},
			{StageLint, cfg.LintCommand},
		},
		logger: logger,
	}, nil
}

// Run executes build, test and lint in order, stopping at the first
// failure. A command that cannot be started at all is an error; a
// command that runs and exits non-zero is a failed gate, not an error.
func (g *Gate) Run(ctx context.Context) (*Result, error) {
	for _, st := range g.stages {
		g.logger.Info("running validation stage",
			zap.String("stage", st.name),
			zap.String("command", st.command),
		)

		cmd := exec.CommandContext(ctx, "sh", "-c", st.command)
		cmd.Dir = g.repoDir

		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output

		err := cmd.Run()
		if err == nil {
			continue
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}

		g.logger.Warn("validation stage failed",
			zap.String("stage", st.name),
			zap.Int("exit_code", exitErr.ExitCode()),
		)
		return &Result{
			Passed:      false,
			FailedStage: st.name,
			Output:      truncate(output.String(), 2048),
		}, nil
	}

	return &Result{Passed: true}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
