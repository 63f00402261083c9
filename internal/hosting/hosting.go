// Package hosting talks to the code-hosting platform (GitHub).
//
// It opens draft pull requests for proposed fixes, files and comments on
// issues for manual follow-up, and searches existing open items so the
// pipeline never opens duplicates. All calls are paced by a client-side
// rate limiter and retried with exponential backoff on transient
// failures.
package hosting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// PullRequest describes an opened change request.
type PullRequest struct {
	Number int
	URL    string
}

// Issue describes an existing or newly created issue.
type Issue struct {
	Number int
	Title  string
	URL    string
}

// Client wraps the GitHub API for one repository.
type Client struct {
	gh      *github.Client
	owner   string
	repo    string
	base    string
	labels  []string
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
}

// New creates a client for the configured repository.
func New(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github owner and repo are required")
	}
	if !cfg.Token.IsSet() {
		return nil, errors.New("github token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		base:   cfg.BaseBranch,
		labels: cfg.Labels,
		// Stay well under GitHub's secondary rate limits.
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		retry:   DefaultRetryConfig(),
		logger:  logger,
	}, nil
}

// Labels returns the labels attached to every remediation PR and issue.
func (c *Client) Labels() []string {
	return c.labels
}

// CreateDraftPullRequest opens a review-gated draft PR from head onto
// the configured base branch and applies the remediation labels.
func (c *Client) CreateDraftPullRequest(ctx context.Context, title, body, head string) (*PullRequest, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var pr *github.PullRequest
	_, err := c.withRetry(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
			Title: github.String(title),
			Body:  github.String(body),
			Head:  github.String(head),
			Base:  github.String(c.base),
			Draft: github.Bool(true),
		})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	if len(c.labels) > 0 {
		if err := c.addLabels(ctx, pr.GetNumber()); err != nil {
			// The PR exists; labeling is cosmetic.
			c.logger.Warn("failed to label pull request",
				zap.Int("number", pr.GetNumber()),
				zap.Error(err),
			)
		}
	}

	c.logger.Info("opened draft pull request",
		zap.Int("number", pr.GetNumber()),
		zap.String("url", pr.GetHTMLURL()),
	)
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// FindOpenIssues lists open issues carrying the remediation labels whose
// title contains titleSubstr. Pull requests surfaced by the issues API
// are included, which is what the duplicate guard wants.
func (c *Client) FindOpenIssues(ctx context.Context, titleSubstr string) ([]Issue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var found []Issue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      c.labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	for {
		var issues []*github.Issue
		_, err := c.withRetry(ctx, func() (*github.Response, error) {
			var resp *github.Response
			var err error
			issues, resp, err = c.gh.Issues.ListByRepo(ctx, c.owner, c.repo, opts)
			if resp != nil {
				opts.Page = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		for _, issue := range issues {
			if titleSubstr == "" || strings.Contains(issue.GetTitle(), titleSubstr) {
				found = append(found, Issue{
					Number: issue.GetNumber(),
					Title:  issue.GetTitle(),
					URL:    issue.GetHTMLURL(),
				})
			}
		}

		if opts.Page == 0 {
			return found, nil
		}
	}
}

// CreateIssue files a labeled issue for manual follow-up.
func (c *Client) CreateIssue(ctx context.Context, title, body string) (*Issue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var issue *github.Issue
	_, err := c.withRetry(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		issue, resp, err = c.gh.Issues.Create(ctx, c.owner, c.repo, &github.IssueRequest{
			Title:  github.String(title),
			Body:   github.String(body),
			Labels: &c.labels,
		})
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	c.logger.Info("created issue",
		zap.Int("number", issue.GetNumber()),
		zap.String("url", issue.GetHTMLURL()),
	)
	return &Issue{Number: issue.GetNumber(), Title: issue.GetTitle(), URL: issue.GetHTMLURL()}, nil
}

// Comment adds a comment to an existing issue or pull request.
func (c *Client) Comment(ctx context.Context, number int, body string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.withRetry(ctx, func() (*github.Response, error) {
		_, resp, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, number, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return nil
}

// addLabels applies the configured labels to an issue or PR.
func (c *Client) addLabels(ctx context.Context, number int) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.withRetry(ctx, func() (*github.Response, error) {
		_, resp, err := c.gh.Issues.AddLabelsToIssue(ctx, c.owner, c.repo, number, c.labels)
		return resp, err
	})
	return err
}
