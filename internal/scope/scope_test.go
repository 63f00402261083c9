package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

func newTestValidator(cfg config.ScopeConfig) *Validator {
	return New(cfg, zap.NewNop())
}

func TestDenyListRejects(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{})

	tests := []string{
		"refactor the service architecture to use events",
		"change business logic for refund calculation",
		"update authentication flow for OAuth",
		"alter the database schema to add a column",
		"add encryption to the session cookie",
	}

	for _, desc := range tests {
		decision := v.Validate(desc)
		assert.False(t, decision.Allowed, "description: %s", desc)
		assert.NotEmpty(t, decision.Matched)
	}
}

func TestDenyWinsOverAllow(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{})

	// Contains both "timeout" (allow) and "security" (deny).
	decision := v.Validate("increase timeout on the security token refresh")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "security", decision.Matched)
}

func TestAllowListAccepts(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{})

	tests := []string{
		"increase the HTTP client timeout to 30s",
		"add a retry around the flaky S3 call",
		"add a null check before dereferencing the response",
		"fix typo in error message",
		"bump dependency version of serde",
	}

	for _, desc := range tests {
		decision := v.Validate(desc)
		assert.True(t, decision.Allowed, "description: %s", desc)
		assert.NotEmpty(t, decision.Matched)
	}
}

func TestUnmatchedDescriptionFailsOpen(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{})

	decision := v.Validate("reorder the struct fields for readability")
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Matched)
}

func TestExtraTermsExtendLists(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{
		ExtraDeny:  []string{"billing"},
		ExtraAllow: []string{"docstring"},
	})

	assert.False(t, v.Validate("adjust billing rounding").Allowed)
	assert.True(t, v.Validate("fix the docstring example").Allowed)
}

func TestCheckPathForbiddenWins(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{
		AllowedPaths:   []string{"src/**/*.rs"},
		ForbiddenPaths: []string{"src/config/**", "**/*.env*", "**/migrations/**"},
	})

	assert.Equal(t, PathAllowed, v.CheckPath("src/domain/ai/service.rs"))
	assert.Equal(t, PathForbidden, v.CheckPath("src/config/database.rs"))
	assert.Equal(t, PathForbidden, v.CheckPath("deploy/.env.production"))
	assert.Equal(t, PathForbidden, v.CheckPath("db/migrations/0001_init.sql"))
	assert.Equal(t, PathRequiresReview, v.CheckPath("Makefile"))
}

func TestCheckPathSingleStarStaysInSegment(t *testing.T) {
	v := newTestValidator(config.ScopeConfig{
		AllowedPaths: []string{"src/*.rs"},
	})

	assert.Equal(t, PathAllowed, v.CheckPath("src/main.rs"))
	assert.Equal(t, PathRequiresReview, v.CheckPath("src/domain/service.rs"))
}

func TestHasPathLimits(t *testing.T) {
	assert.False(t, newTestValidator(config.ScopeConfig{}).HasPathLimits())
	assert.True(t, newTestValidator(config.ScopeConfig{ForbiddenPaths: []string{"**"}}).HasPathLimits())
}
