// Package scope classifies proposed fixes as safe to automate or not.
//
// Classification is a keyword heuristic over the fix description, plus
// glob-based path limits for the file the agent is asked to modify. The
// heuristic is deliberately fail-open for descriptions matching neither
// list: the build/test gate downstream is the real safety boundary.
package scope

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// denyTerms reject a fix regardless of any allow-list match. They cover
// changes that must stay human-authored.
var denyTerms = []string{
	"architecture",
	"business logic",
	"security",
	"authentication",
	"authorization",
	"encryption",
	"database schema",
	"schema migration",
	"migration",
}

// allowTerms mark the narrow fix classes the pipeline is trusted with.
var allowTerms = []string{
	"timeout",
	"retry",
	"logging",
	"log level",
	"null check",
	"nil check",
	"config",
	"dependency version",
	"version bump",
	"typo",
	"patch",
}

// Decision is the outcome of validating a fix description.
type Decision struct {
	Allowed bool

	// Matched is the term that decided the outcome, empty when neither
	// list matched.
	Matched string

	Reason string
}

// PathDecision is the outcome of checking a target path.
type PathDecision int

const (
	// PathAllowed matches an allowed pattern and no forbidden one.
	PathAllowed PathDecision = iota

	// PathForbidden matches a forbidden pattern. Forbidden wins over
	// allowed.
	PathForbidden

	// PathRequiresReview matches neither list.
	PathRequiresReview
)

// Validator applies the keyword and path heuristics.
type Validator struct {
	deny      []string
	allow     []string
	allowed   []string
	forbidden []string
	logger    *zap.Logger
}

// New creates a validator from config, extending the built-in term lists.
func New(cfg config.ScopeConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		deny:      append(append([]string{}, denyTerms...), cfg.ExtraDeny...),
		allow:     append(append([]string{}, allowTerms...), cfg.ExtraAllow...),
		allowed:   cfg.AllowedPaths,
		forbidden: cfg.ForbiddenPaths,
		logger:    logger,
	}
}

// Validate classifies a fix description.
//
// Any deny-list term rejects immediately, regardless of allow-list
// matches. An allow-list match accepts. Matching neither accepts with a
// logged warning (fail-open).
func (v *Validator) Validate(fixDescription string) Decision {
	lower := strings.ToLower(fixDescription)

	for _, term := range v.deny {
		if strings.Contains(lower, term) {
			return Decision{
				Allowed: false,
				Matched: term,
				Reason:  fmt.Sprintf("fix touches %q, which requires human authorship", term),
			}
		}
	}

	for _, term := range v.allow {
		if strings.Contains(lower, term) {
			return Decision{
				Allowed: true,
				Matched: term,
				Reason:  fmt.Sprintf("fix matches allowed class %q", term),
			}
		}
	}

	v.logger.Warn("fix description matched neither scope list, accepting",
		zap.String("description", fixDescription),
	)
	return Decision{
		Allowed: true,
		Reason:  "no scope term matched; relying on the validation gate",
	}
}

// CheckPath classifies the file path the fixer is asked to touch.
// Forbidden patterns win over allowed ones; a path matching neither
// requires review. Empty pattern lists leave every path at
// PathRequiresReview, which callers treat as allowed when no limits are
// configured.
func (v *Validator) CheckPath(path string) PathDecision {
	for _, pattern := range v.forbidden {
		if matchGlob(path, pattern) {
			return PathForbidden
		}
	}
	for _, pattern := range v.allowed {
		if matchGlob(path, pattern) {
			return PathAllowed
		}
	}
	return PathRequiresReview
}

// HasPathLimits reports whether any path patterns are configured.
func (v *Validator) HasPathLimits() bool {
	return len(v.allowed) > 0 || len(v.forbidden) > 0
}

// matchGlob matches a path against a glob pattern where "*" spans within
// one path segment and "**" spans across segments.
func matchGlob(path, pattern string) bool {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*\*`, "\x00")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	escaped = strings.ReplaceAll(escaped, "\x00", ".*")

	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
