// Package redact scrubs secrets from content that leaves the process:
// LLM prompts and notification payloads.
//
// Log records and source excerpts routinely contain whatever the
// monitored application printed, including credentials. Detection uses
// the Gitleaks ruleset; matches are replaced with a [REDACTED:rule-id]
// marker that keeps the surrounding context readable.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
)

// Scrubber detects and redacts secrets. The zero value and a disabled
// scrubber pass content through unchanged.
type Scrubber struct {
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a scrubber with the default Gitleaks ruleset, extended by
// the operator allow list. Detector construction compiles every rule,
// so callers should build one scrubber and share it.
func New(cfg config.RedactConfig, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Disabled {
		return &Scrubber{logger: logger}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build secret detector: %w", err)
	}

	if len(cfg.AllowList) > 0 {
		allow := &gitleaksconfig.Allowlist{Description: "remedyd operator allow list"}
		for _, pattern := range cfg.AllowList {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("redact.allow_list: invalid pattern %q: %w", pattern, err)
			}
			allow.Regexes = append(allow.Regexes, (*gitleaksregexp.Regexp)(re))
		}
		detector.Config.Allowlists = append(detector.Config.Allowlists, allow)
	}

	return &Scrubber{detector: detector, logger: logger}, nil
}

// Scrub replaces every detected secret in content with a
// [REDACTED:rule-id] marker.
func (s *Scrubber) Scrub(content string) string {
	if s == nil || s.detector == nil || content == "" {
		return content
	}

	findings := s.detector.DetectString(content)
	if len(findings) == 0 {
		return content
	}

	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}

	s.logger.Debug("redacted secrets from outbound content",
		zap.Int("findings", len(findings)),
	)
	return content
}
