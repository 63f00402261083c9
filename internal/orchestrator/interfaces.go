package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/hosting"
	"github.com/fyrsmithlabs/remedyd/internal/lock"
	"github.com/fyrsmithlabs/remedyd/internal/notify"
	"github.com/fyrsmithlabs/remedyd/internal/pipeline"
	"github.com/fyrsmithlabs/remedyd/internal/scope"
)

// Git is the slice of version-control surface the state machine drives.
// Implemented by gitops.Service.
type Git interface {
	CurrentBranch() (string, error)
	IsClean() (bool, error)
	HasChanges() (bool, error)
	CreateBranch(name string) error
	Checkout(name string) error
	CommitAll(message string) (string, error)
	Push(ctx context.Context, branch string) error
	DeleteLocalBranch(name string) error
	DeleteRemoteBranch(ctx context.Context, name string) error
	DiscardChanges() error
}

// Hosting publishes the fix and handles duplicate/follow-up traffic.
// Implemented by hosting.Client.
type Hosting interface {
	CreateDraftPullRequest(ctx context.Context, title, body, head string) (*hosting.PullRequest, error)
	FindOpenIssues(ctx context.Context, titleSubstr string) ([]hosting.Issue, error)
	CreateIssue(ctx context.Context, title, body string) (*hosting.Issue, error)
	Comment(ctx context.Context, number int, body string) error
}

// Fixer mutates the working tree in place. Implemented by fixer.Agent.
type Fixer interface {
	Apply(ctx context.Context, fixDescription, targetPath string) error
}

// Gate validates the mutated tree. Implemented by pipeline.Gate.
type Gate interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Notifier delivers the outcome event. Implemented by notify.Notifier.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Guard is a held lock.
type Guard interface {
	Release()
}

// Locker hands out the cross-process remediation lock.
type Locker interface {
	Acquire(ctx context.Context, timeout time.Duration) (Guard, error)
}

// LockManager adapts lock.Manager to the Locker interface.
type LockManager struct {
	Manager *lock.Manager
}

// Acquire implements Locker.
func (l LockManager) Acquire(ctx context.Context, timeout time.Duration) (Guard, error) {
	guard, err := l.Manager.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}
	return guard, nil
}

// Quota enforces the daily publish ceiling. Implemented by
// quota.Tracker.
type Quota interface {
	Allow(date time.Time) (bool, error)
	Commit(date time.Time) (int, error)
}

// Scope classifies fix descriptions and target paths. Implemented by
// scope.Validator.
type Scope interface {
	Validate(fixDescription string) scope.Decision
	CheckPath(path string) scope.PathDecision
	HasPathLimits() bool
}
