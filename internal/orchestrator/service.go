package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/diagnose"
	"github.com/fyrsmithlabs/remedyd/internal/notify"
	"github.com/fyrsmithlabs/remedyd/internal/scope"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/orchestrator"

// Deps are the collaborators a Service sequences.
type Deps struct {
	Git      Git
	Hosting  Hosting
	Fixer    Fixer
	Gate     Gate
	Notifier Notifier
	Locker   Locker
	Quota    Quota
	Scope    Scope
}

// Service runs the remediation state machine.
type Service struct {
	deps        Deps
	lockTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	tracer     trace.Tracer
	meter      metric.Meter
	runCounter metric.Int64Counter
}

// New creates an orchestrator. All collaborators are required.
func New(deps Deps, lockTimeout time.Duration, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Git == nil:
		return nil, errors.New("git collaborator is required")
	case deps.Hosting == nil:
		return nil, errors.New("hosting collaborator is required")
	case deps.Fixer == nil:
		return nil, errors.New("fixer collaborator is required")
	case deps.Gate == nil:
		return nil, errors.New("validation gate is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	case deps.Locker == nil:
		return nil, errors.New("lock manager is required")
	case deps.Quota == nil:
		return nil, errors.New("quota tracker is required")
	case deps.Scope == nil:
		return nil, errors.New("scope validator is required")
	}
	if lockTimeout <= 0 {
		return nil, errors.New("lock timeout must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		deps:        deps,
		lockTimeout: lockTimeout,
		logger:      logger,
		now:         time.Now,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error
	s.runCounter, err = s.meter.Int64Counter(
		"remedyd.remediation.runs_total",
		metric.WithDescription("Total number of remediation runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		s.logger.Warn("failed to create run counter", zap.Error(err))
	}
}

// Run drives one report through the state machine to a terminal state.
// It never panics the caller with an error: the Outcome is the result,
// and exactly one outcome notification is sent before returning.
func (s *Service) Run(ctx context.Context, report *diagnose.Report) *Outcome {
	ctx, span := s.tracer.Start(ctx, "orchestrator.run")
	defer span.End()

	correlationID := uuid.New().String()
	span.SetAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("error_code", report.ErrorCode),
	)

	out := s.execute(ctx, report, correlationID)

	span.SetAttributes(attribute.String("outcome", string(out.State)))
	if out.State == StateFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
	if s.runCounter != nil {
		s.runCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(out.State)),
		))
	}

	s.notifyOutcome(ctx, report, out)
	return out
}

func (s *Service) execute(ctx context.Context, report *diagnose.Report, correlationID string) *Outcome {
	fp := fingerprint(report)
	logger := s.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("fingerprint", fp),
	)

	reject := func(reason string) *Outcome {
		logger.Warn("remediation rejected", zap.String("reason", reason))
		return &Outcome{State: StateFailed, CorrelationID: correlationID, Reason: reason}
	}

	// Pre-lock gating: anything rejected here never contends for the
	// lock and needs no cleanup.
	if !report.Actionable() {
		return reject("report is not auto-fixable")
	}

	decision := s.deps.Scope.Validate(report.FixSuggestion)
	if !decision.Allowed {
		return reject(decision.Reason)
	}

	target := targetPathHint(report.Target)
	if s.deps.Scope.HasPathLimits() && target != "" {
		switch s.deps.Scope.CheckPath(target) {
		case scope.PathForbidden:
			return reject(fmt.Sprintf("path %s is forbidden for automated fixes", target))
		case scope.PathRequiresReview:
			return reject(fmt.Sprintf("path %s is outside the allowed set and requires human review", target))
		}
	}

	now := s.now()
	ok, err := s.deps.Quota.Allow(now)
	if err != nil {
		return reject("quota check failed: " + err.Error())
	}
	if !ok {
		return reject("daily remediation quota exhausted")
	}

	// Duplicate guard: an open fix for the same fingerprint means this
	// occurrence is already being handled. The search is best-effort.
	if issues, err := s.deps.Hosting.FindOpenIssues(ctx, fp); err != nil {
		logger.Warn("duplicate search failed, continuing", zap.Error(err))
	} else if len(issues) > 0 {
		comment := fmt.Sprintf("Another occurrence of `%s` was observed (correlation %s); skipping a duplicate fix attempt.", fp, correlationID)
		if err := s.deps.Hosting.Comment(ctx, issues[0].Number, comment); err != nil {
			logger.Warn("failed to comment on existing fix", zap.Int("number", issues[0].Number), zap.Error(err))
		}
		return reject("an open fix already exists: " + issues[0].URL)
	}

	guard, err := s.deps.Locker.Acquire(ctx, s.lockTimeout)
	if err != nil {
		return reject("could not acquire remediation lock: " + err.Error())
	}
	defer guard.Release()

	origin, err := s.deps.Git.CurrentBranch()
	if err != nil {
		return reject("could not resolve current branch: " + err.Error())
	}
	clean, err := s.deps.Git.IsClean()
	if err != nil {
		return reject("could not inspect working tree: " + err.Error())
	}
	if !clean {
		return reject("working tree has uncommitted changes")
	}

	// The advisory check above raced other processes; re-check now that
	// the lock serializes quota commits. The lock wait can span midnight,
	// so the clock is read again to charge the correct day.
	now = s.now()
	if ok, err = s.deps.Quota.Allow(now); err != nil || !ok {
		return reject("daily remediation quota exhausted")
	}

	attempt := &FixAttempt{
		BranchName:   branchName(report.ErrorCode, now),
		OriginBranch: origin,
		State:        StateLockHeld,
	}
	logger = logger.With(zap.String("branch", attempt.BranchName))

	if err := s.deps.Git.CreateBranch(attempt.BranchName); err != nil {
		return s.fail(ctx, attempt, logger, "failed to create fix branch: "+err.Error(), correlationID)
	}
	attempt.State = StateBranchCreated

	if err := s.deps.Fixer.Apply(ctx, report.FixSuggestion, target); err != nil {
		return s.fail(ctx, attempt, logger, "fix agent failed: "+err.Error(), correlationID)
	}
	attempt.State = StateFixApplied

	// The agent's exit status is not trusted; a tree identical to HEAD
	// is a no-op fix.
	changed, err := s.deps.Git.HasChanges()
	if err != nil {
		return s.fail(ctx, attempt, logger, "could not inspect working tree: "+err.Error(), correlationID)
	}
	if !changed {
		return s.fail(ctx, attempt, logger, "fix agent produced no changes", correlationID)
	}

	result, err := s.deps.Gate.Run(ctx)
	if err != nil {
		return s.fail(ctx, attempt, logger, "validation gate error: "+err.Error(), correlationID)
	}
	if !result.Passed {
		return s.fail(ctx, attempt, logger,
			fmt.Sprintf("validation gate failed at %s stage", result.FailedStage), correlationID)
	}
	attempt.State = StateTested

	if _, err := s.deps.Git.CommitAll(commitMessage(fp, report, correlationID)); err != nil {
		return s.fail(ctx, attempt, logger, "failed to commit fix: "+err.Error(), correlationID)
	}
	attempt.State = StateCommitted

	if err := s.deps.Git.Push(ctx, attempt.BranchName); err != nil {
		return s.fail(ctx, attempt, logger, "failed to push fix branch: "+err.Error(), correlationID)
	}
	attempt.State = StatePushed
	attempt.pushed = true

	attempt.State = StatePublishRequested
	pr, err := s.deps.Hosting.CreateDraftPullRequest(ctx, prTitle(fp), prBody(report, fp, correlationID), attempt.BranchName)
	if err != nil {
		// The branch is pushed and intact; keep it so an operator can
		// open the pull request by hand.
		logger.Error("publish failed, keeping fix branch", zap.Error(err))
		s.operatorFollowUp(ctx, logger, fp, attempt, correlationID, err)
		attempt.State = StateFailed
		return &Outcome{
			State:         StateFailed,
			CorrelationID: correlationID,
			Branch:        attempt.BranchName,
			Reason:        "publish failed: " + err.Error(),
			BranchKept:    true,
		}
	}

	attempt.State = StateSucceeded
	if _, err := s.deps.Quota.Commit(now); err != nil {
		// The fix is published; a lost increment only risks one extra
		// publish today.
		logger.Error("failed to commit quota after publish", zap.Error(err))
	}

	logger.Info("remediation succeeded",
		zap.Int("pull_request", pr.Number),
		zap.String("url", pr.URL),
	)
	return &Outcome{
		State:          StateSucceeded,
		CorrelationID:  correlationID,
		Branch:         attempt.BranchName,
		PullRequestURL: pr.URL,
	}
}

// fail moves the attempt to Failed and runs the unconditional cleanup
// path: restore the tree, return to the origin branch, delete the fix
// branch locally and remotely if pushed. Each step runs even when an
// earlier one fails.
func (s *Service) fail(ctx context.Context, attempt *FixAttempt, logger *zap.Logger, reason, correlationID string) *Outcome {
	logger.Error("remediation failed",
		zap.String("state", string(attempt.State)),
		zap.String("reason", reason),
	)

	if err := s.deps.Git.DiscardChanges(); err != nil {
		logger.Error("cleanup: failed to restore working tree", zap.Error(err))
	}
	if err := s.deps.Git.Checkout(attempt.OriginBranch); err != nil {
		logger.Error("cleanup: failed to checkout origin branch", zap.Error(err))
	}
	if err := s.deps.Git.DeleteLocalBranch(attempt.BranchName); err != nil {
		logger.Error("cleanup: failed to delete local fix branch", zap.Error(err))
	}
	if attempt.pushed {
		if err := s.deps.Git.DeleteRemoteBranch(ctx, attempt.BranchName); err != nil {
			logger.Error("cleanup: failed to delete remote fix branch", zap.Error(err))
		}
	}

	attempt.State = StateFailed
	return &Outcome{
		State:         StateFailed,
		CorrelationID: correlationID,
		Branch:        attempt.BranchName,
		Reason:        reason,
	}
}

// operatorFollowUp files a labeled issue pointing at the kept branch.
// Best-effort: the failure notification carries the same information.
func (s *Service) operatorFollowUp(ctx context.Context, logger *zap.Logger, fp string, attempt *FixAttempt, correlationID string, publishErr error) {
	body := fmt.Sprintf(
		"Publishing the automated fix for `%s` failed: %s\n\nThe fix branch `%s` was pushed and kept. Open a pull request from it manually or delete it.\n\nCorrelation-ID: %s",
		fp, publishErr.Error(), attempt.BranchName, correlationID,
	)
	if _, err := s.deps.Hosting.CreateIssue(ctx, "Manual follow-up: "+fp, body); err != nil {
		logger.Error("failed to file follow-up issue", zap.Error(err))
	}
}

func (s *Service) notifyOutcome(ctx context.Context, report *diagnose.Report, out *Outcome) {
	fp := fingerprint(report)

	msg := notify.Message{CorrelationID: out.CorrelationID}
	if out.Succeeded() {
		msg.Severity = notify.SeveritySuccess
		msg.Title = "Remediation succeeded: " + fp
		msg.Body = "A draft pull request is ready for review."
		msg.Fields = append(msg.Fields, notify.Field{Name: "Pull request", Value: out.PullRequestURL})
	} else {
		msg.Severity = notify.SeverityWarning
		msg.Title = "Remediation failed: " + fp
		msg.Body = out.Reason
	}
	if out.Branch != "" {
		msg.Fields = append(msg.Fields, notify.Field{Name: "Branch", Value: out.Branch, Inline: true})
	}
	if out.BranchKept {
		msg.Fields = append(msg.Fields, notify.Field{Name: "Branch kept", Value: "yes, manual follow-up required", Inline: true})
	}

	if err := s.deps.Notifier.Send(ctx, msg); err != nil {
		s.logger.Error("failed to deliver outcome notification",
			zap.String("correlation_id", out.CorrelationID),
			zap.Error(err),
		)
	}
}

func fingerprint(report *diagnose.Report) string {
	code := report.ErrorCode
	if code == "" {
		code = "UNKNOWN"
	}
	return code + ":" + report.Target
}

// targetPathHint converts a log target like "server::domain::ai::service"
// into the relative path the fix agent should focus on. The leading
// segment names the binary, not a directory.
func targetPathHint(target string) string {
	if target == "" {
		return ""
	}
	segments := strings.Split(target, "::")
	if len(segments) > 1 {
		segments = segments[1:]
	}
	return path.Join(segments...)
}

func branchName(errorCode string, now time.Time) string {
	code := errorCode
	if code == "" {
		code = "UNKNOWN"
	}
	var b strings.Builder
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return fmt.Sprintf("autofix/%s-%d", b.String(), now.Unix())
}

func prTitle(fp string) string {
	return "Auto-fix: " + fp
}

func prBody(report *diagnose.Report, fp, correlationID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated draft fix for `%s`.\n\n", fp)
	if report.RootCause != "" {
		fmt.Fprintf(&b, "**Root cause:** %s\n\n", report.RootCause)
	}
	if report.Impact != "" {
		fmt.Fprintf(&b, "**Impact:** %s\n\n", report.Impact)
	}
	fmt.Fprintf(&b, "**Applied fix:** %s\n\n", report.FixSuggestion)
	b.WriteString("The build, test and lint gates passed on this branch. Review before merging.\n\n")
	fmt.Fprintf(&b, "Correlation-ID: %s\n", correlationID)
	return b.String()
}

func commitMessage(fp string, report *diagnose.Report, correlationID string) string {
	return fmt.Sprintf("fix: automated remediation for %s\n\n%s\n\nCorrelation-ID: %s",
		fp, report.FixSuggestion, correlationID)
}
