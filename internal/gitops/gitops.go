// Package gitops wraps the version-control operations the remediation
// pipeline needs: branch create/checkout/delete (local and remote),
// commit, push, and working-tree inspection.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// ErrDetachedHead is returned when the repository is not on a branch.
var ErrDetachedHead = errors.New("repository HEAD is detached")

// Service operates on one local working copy.
type Service struct {
	repo    *git.Repository
	repoDir string
	remote  string
	author  object.Signature
	auth    transport.AuthMethod
	logger  *zap.Logger
}

// New opens the working copy at cfg.RepoPath. auth may be nil for
// remotes that need no credentials (local paths, ssh-agent).
func New(cfg config.GitConfig, auth transport.AuthMethod, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, err := git.PlainOpen(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", cfg.RepoPath, err)
	}

	return &Service{
		repo:    repo,
		repoDir: cfg.RepoPath,
		remote:  cfg.Remote,
		author:  object.Signature{Name: cfg.AuthorName, Email: cfg.AuthorEmail},
		auth:    auth,
		logger:  logger,
	}, nil
}

// RepoDir returns the working copy root.
func (s *Service) RepoDir() string {
	return s.repoDir
}

// CurrentBranch returns the short name of the checked-out branch.
func (s *Service) CurrentBranch() (string, error) {
	head, err := s.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Name().Short(), nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (s *Service) IsClean() (bool, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// HasChanges reports whether the working tree differs from HEAD. The fix
// agent's success is judged by this, not by its exit status.
func (s *Service) HasChanges() (bool, error) {
	clean, err := s.IsClean()
	if err != nil {
		return false, err
	}
	return !clean, nil
}

// CreateBranch creates a branch at the current HEAD and checks it out.
func (s *Service) CreateBranch(name string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", name, err)
	}
	s.logger.Info("created fix branch", zap.String("branch", name))
	return nil
}

// Checkout switches to an existing branch.
func (s *Service) Checkout(name string) error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", name, err)
	}
	return nil
}

// CommitAll stages every change in the tree and commits it.
func (s *Service) CommitAll(message string) (string, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	author := s.author
	author.When = time.Now()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: &author})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("committed fix", zap.String("commit", hash.String()))
	return hash.String(), nil
}

// Push publishes the branch to the configured remote.
func (s *Service) Push(ctx context.Context, branch string) error {
	refspec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: s.remote,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       s.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	s.logger.Info("pushed fix branch", zap.String("branch", branch), zap.String("remote", s.remote))
	return nil
}

// DeleteLocalBranch removes the branch reference. The branch must not be
// checked out.
func (s *Service) DeleteLocalBranch(name string) error {
	ref := plumbing.NewBranchReferenceName(name)
	if err := s.repo.Storer.RemoveReference(ref); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", name, err)
	}
	s.logger.Info("deleted local fix branch", zap.String("branch", name))
	return nil
}

// DeleteRemoteBranch removes the branch from the remote by pushing an
// empty source refspec.
func (s *Service) DeleteRemoteBranch(ctx context.Context, name string) error {
	refspec := gitconfig.RefSpec(":refs/heads/" + name)
	err := s.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: s.remote,
		RefSpecs:   []gitconfig.RefSpec{refspec},
		Auth:       s.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to delete remote branch %s: %w", name, err)
	}
	s.logger.Info("deleted remote fix branch", zap.String("branch", name))
	return nil
}

// DiscardChanges hard-resets the working tree to HEAD and removes
// untracked files, restoring the tree the fix agent mutated.
func (s *Service) DiscardChanges() error {
	wt, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset worktree: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}
	return nil
}

// RecentCommits returns up to limit one-line summaries of commits
// touching path (or any path when empty), newest first. Used to give the
// diagnostic prompt some history.
func (s *Service) RecentCommits(path string, limit int) ([]string, error) {
	opts := &git.LogOptions{}
	if path != "" {
		p := path
		opts.PathFilter = func(candidate string) bool { return candidate == p }
	}

	iter, err := s.repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	var lines []string
	for len(lines) < limit {
		commit, err := iter.Next()
		if err != nil {
			break
		}
		summary, _, _ := strings.Cut(commit.Message, "\n")
		lines = append(lines, fmt.Sprintf("%s %s", commit.Hash.String()[:7], summary))
	}
	return lines, nil
}
