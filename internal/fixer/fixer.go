// Package fixer invokes the external AI code-modification agent.
//
// The agent is an arbitrary configured executable that mutates the
// working tree in place. Its exit status alone does not determine
// success: the orchestrator inspects the working tree for an actual diff
// afterwards, because an agent that exits zero without changing anything
// has still produced a no-op fix.
package fixer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Agent runs the configured code-modification command.
type Agent struct {
	command string
	args    []string
	repoDir string
	logger  *zap.Logger
}

// New creates an agent from config. The fix description is passed on
// stdin and the target path, when known, as the final argument.
func New(cfg config.FixerConfig, repoDir string, logger *zap.Logger) (*Agent, error) {
	if cfg.Command == "" {
		return nil, errors.New("fixer command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		command: cfg.Command,
		args:    cfg.Args,
		repoDir: repoDir,
		logger:  logger,
	}, nil
}

// Apply asks the agent to apply the fix described by fixDescription,
// optionally scoped to targetPath. The agent runs in the repository root
// and mutates the tree in place.
func (a *Agent) Apply(ctx context.Context, fixDescription, targetPath string) error {
	args := append([]string{}, a.args...)
	if targetPath != "" {
		args = append(args, targetPath)
	}

	cmd := exec.CommandContext(ctx, a.command, args...)
	cmd.Dir = a.repoDir
	cmd.Stdin = strings.NewReader(fixDescription)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	a.logger.Info("invoking fix agent",
		zap.String("command", a.command),
		zap.String("target_path", targetPath),
	)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fix agent failed: %w: %s", err, truncate(output.String(), 1024))
	}

	a.logger.Debug("fix agent finished", zap.String("output", truncate(output.String(), 1024)))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
