package main

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/dedup"
	"github.com/fyrsmithlabs/remedyd/internal/diagnose"
	"github.com/fyrsmithlabs/remedyd/internal/fixer"
	"github.com/fyrsmithlabs/remedyd/internal/gitops"
	"github.com/fyrsmithlabs/remedyd/internal/hosting"
	"github.com/fyrsmithlabs/remedyd/internal/ingest"
	"github.com/fyrsmithlabs/remedyd/internal/lock"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/monitor"
	"github.com/fyrsmithlabs/remedyd/internal/notify"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/quota"
	"github.com/fyrsmithlabs/remedyd/internal/ratelimit"
	"github.com/fyrsmithlabs/remedyd/internal/redact"
	"github.com/fyrsmithlabs/remedyd/internal/scope"
	"github.com/fyrsmithlabs/remedyd/internal/statestore"
)

// app holds the wired service graph for one command invocation.
//
// Diagnosis and remediation are optional capabilities: without an
// Anthropic token remedyd degrades to plain alerting, and without a
// repository, fixer command and GitHub credentials it alerts and
// diagnoses but never attempts a fix.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *statestore.Store
	reader *ingest.Reader

	monitor *monitor.Service

	// orch is nil when remediation is not configured.
	orch *orchestrator.Service
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := statestore.New(cfg.State.Dir, logger)
	if err != nil {
		return nil, err
	}

	reader, err := ingest.NewReader(cfg.Watch, store, logger)
	if err != nil {
		return nil, err
	}
	deduper, err := dedup.New(store, cfg.Dedup.Window.Std(), logger)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(store, cfg.RateLimit.MaxPerHour, logger)
	if err != nil {
		return nil, err
	}
	// One scrubber guards both outbound surfaces: the diagnostic
	// prompt and the notification webhook.
	scrubber, err := redact.New(cfg.Redact, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.New(cfg.Notify, scrubber, logger)

	var gitSvc *gitops.Service
	if cfg.Git.RepoPath != "" {
		auth := gitAuth(cfg.GitHub)
		gitSvc, err = gitops.New(cfg.Git, auth, logger)
		if err != nil {
			return nil, err
		}
	}

	var diagnoser monitor.Diagnoser
	if cfg.Diagnose.Token.IsSet() {
		var history diagnose.CommitHistory
		if gitSvc != nil {
			history = gitSvc
		}
		svc, err := diagnose.New(cfg.Diagnose, history, scrubber, logger)
		if err != nil {
			return nil, err
		}
		diagnoser = svc
	} else {
		logger.Info("no diagnose token configured, alerts will be plain")
	}

	orch, err := buildOrchestrator(ctx, cfg, gitSvc, store, notifier, logger)
	if err != nil {
		return nil, err
	}
	if orch == nil {
		logger.Info("remediation not configured, monitoring only")
	}

	var remediator monitor.Remediator
	if orch != nil {
		remediator = orch
	}

	mon, err := monitor.New(monitor.Deps{
		Source:     reader,
		Dedup:      deduper,
		Limiter:    limiter,
		Diagnoser:  diagnoser,
		Remediator: remediator,
		Notifier:   notifier,
		Purger:     store,
	}, cfg.State.Retention.Std(), logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		reader:  reader,
		monitor: mon,
		orch:    orch,
	}, nil
}

// buildOrchestrator wires the fix pipeline, or returns nil when the
// required repository, agent and hosting settings are absent.
func buildOrchestrator(ctx context.Context, cfg *config.Config, gitSvc *gitops.Service, store *statestore.Store, notifier *notify.Notifier, logger *zap.Logger) (*orchestrator.Service, error) {
	if gitSvc == nil || cfg.Fixer.Command == "" || !cfg.GitHub.Token.IsSet() {
		return nil, nil
	}

	host, err := hosting.New(ctx, cfg.GitHub, logger)
	if err != nil {
		return nil, err
	}
	agent, err := fixer.New(cfg.Fixer, cfg.Git.RepoPath, logger)
	if err != nil {
		return nil, err
	}
	gate, err := pipeline.New(cfg.Pipeline, cfg.Git.RepoPath, logger)
	if err != nil {
		return nil, err
	}
	locker, err := lock.NewManager(cfg.State.Dir, logger)
	if err != nil {
		return nil, err
	}
	tracker, err := quota.New(store, cfg.Quota.MaxPerDay, logger)
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Deps{
		Git:      gitSvc,
		Hosting:  host,
		Fixer:    agent,
		Gate:     gate,
		Notifier: notifier,
		Locker:   orchestrator.LockManager{Manager: locker},
		Quota:    tracker,
		Scope:    scope.New(cfg.Scope, logger),
	}, cfg.Lock.AcquireTimeout.Std(), logger)
}

// gitAuth builds push credentials from the GitHub token when set.
func gitAuth(cfg config.GitHubConfig) transport.AuthMethod {
	if !cfg.Token.IsSet() {
		return nil
	}
	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: cfg.Token.Value(),
	}
}

func (a *app) Close() {
	if err := logging.Sync(a.logger); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "failed to flush logs: %v\n", err)
	}
}
