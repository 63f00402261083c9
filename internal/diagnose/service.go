// Package diagnose asks an LLM for a structured root-cause assessment
// of an error record.
//
// The prompt carries the error fields plus whatever context is cheap to
// gather: an excerpt of the source file behind the log target and its
// recent commit history. The model answers in JSON; extraction is
// lenient because models occasionally wrap the object in prose or code
// fences.
package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/ingest"
)

// maxSourceExcerpt bounds how much source is pasted into the prompt.
const maxSourceExcerpt = 3000

// sourceExtensions are tried in order when mapping a log target to a
// source file.
var sourceExtensions = []string{".rs", ".go", ".py", ".ts", ".js"}

// CommitHistory supplies recent commit summaries for a path.
type CommitHistory interface {
	RecentCommits(path string, limit int) ([]string, error)
}

// Scrubber removes secrets from the prompt before it is sent to the
// model. Implemented by redact.Scrubber; nil disables scrubbing.
type Scrubber interface {
	Scrub(content string) string
}

// Service produces diagnostic reports.
type Service struct {
	llm        llms.Model
	maxTokens  int
	sourceRoot string
	history    CommitHistory
	scrubber   Scrubber
	logger     *zap.Logger
}

// New creates a diagnostic service backed by the Anthropic API.
// history may be nil when no repository is available.
func New(cfg config.DiagnoseConfig, history CommitHistory, scrubber Scrubber, logger *zap.Logger) (*Service, error) {
	if !cfg.Token.IsSet() {
		return nil, errors.New("diagnose token not set")
	}
	llm, err := anthropic.New(
		anthropic.WithToken(cfg.Token.Value()),
		anthropic.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic client: %w", err)
	}
	return NewWithModel(llm, cfg, history, scrubber, logger), nil
}

// NewWithModel creates a service over an existing model client.
func NewWithModel(llm llms.Model, cfg config.DiagnoseConfig, history CommitHistory, scrubber Scrubber, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Service{
		llm:        llm,
		maxTokens:  maxTokens,
		sourceRoot: cfg.SourceRoot,
		history:    history,
		scrubber:   scrubber,
		logger:     logger,
	}
}

// Diagnose analyzes one error record. A failure here degrades the
// pipeline to a plain notification; it never aborts the cycle.
func (s *Service) Diagnose(ctx context.Context, record ingest.LogRecord) (*Report, error) {
	// The log message and source excerpt are raw application output;
	// scrub the assembled prompt before it leaves the process.
	prompt := s.scrub(s.buildPrompt(record))

	resp, err := s.llm.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithMaxTokens(s.maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("diagnostic call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("diagnostic call returned no choices")
	}

	report, err := parseReport(resp.Choices[0].Content)
	if err != nil {
		return nil, err
	}

	report.ErrorCode = record.ErrorCode
	report.Target = record.Target

	s.logger.Info("diagnosis complete",
		zap.String("error_code", record.ErrorCode),
		zap.String("severity", report.Severity),
		zap.Bool("auto_fixable", report.AutoFixable),
	)
	return report, nil
}

func (s *Service) buildPrompt(record ingest.LogRecord) string {
	var b strings.Builder

	b.WriteString("# Role\n")
	b.WriteString("You are an error-diagnosis expert for a backend system.\n\n")

	b.WriteString("# Error\n")
	fmt.Fprintf(&b, "- Error code: %s\n", orUnknown(record.ErrorCode))
	fmt.Fprintf(&b, "- Location: %s\n", record.Target)
	fmt.Fprintf(&b, "- Message: %s\n", record.Message)
	if record.RequestID != "" {
		fmt.Fprintf(&b, "- Request ID: %s\n", record.RequestID)
	}
	b.WriteString("\n")

	if source, path := s.sourceExcerpt(record.Target); source != "" {
		fmt.Fprintf(&b, "# Source (%s)\n```\n%s\n```\n\n", path, source)
	}

	if commits := s.recentCommits(record.Target); commits != "" {
		fmt.Fprintf(&b, "# Recent commits\n```\n%s\n```\n\n", commits)
	}

	b.WriteString(`# Request
Respond with a JSON object in exactly this shape:

{
  "severity": "critical|warning|info",
  "root_cause": "root cause in one or two sentences",
  "impact": "blast radius",
  "recommendations": [
    {"priority": 1, "action": "recommended step", "effort": "low|medium|high"}
  ],
  "auto_fixable": true,
  "fix_suggestion": "concrete change when auto-fixable, empty otherwise"
}

Output only the JSON object.`)

	return b.String()
}

// targetRelPath maps a log target like "server::domain::ai::service" to
// an existing file path relative to the source root, or "".
func (s *Service) targetRelPath(target string) string {
	if s.sourceRoot == "" || target == "" {
		return ""
	}

	segments := strings.Split(target, "::")
	if len(segments) > 1 {
		// The first segment is the crate/binary name, not a directory.
		segments = segments[1:]
	}
	rel := filepath.Join(segments...)

	for _, ext := range sourceExtensions {
		if _, err := os.Stat(filepath.Join(s.sourceRoot, rel+ext)); err == nil {
			return rel + ext
		}
	}

	s.logger.Debug("no source file found for target", zap.String("target", target))
	return ""
}

// sourceExcerpt returns a bounded excerpt of the target's source file.
func (s *Service) sourceExcerpt(target string) (string, string) {
	rel := s.targetRelPath(target)
	if rel == "" {
		return "", ""
	}
	data, err := os.ReadFile(filepath.Join(s.sourceRoot, rel))
	if err != nil {
		return "", ""
	}
	if len(data) > maxSourceExcerpt {
		data = data[:maxSourceExcerpt]
	}
	return string(data), rel
}

func (s *Service) scrub(content string) string {
	if s.scrubber == nil {
		return content
	}
	return s.scrubber.Scrub(content)
}

func (s *Service) recentCommits(target string) string {
	if s.history == nil {
		return ""
	}
	commits, err := s.history.RecentCommits(s.targetRelPath(target), 5)
	if err != nil || len(commits) == 0 {
		return ""
	}
	return strings.Join(commits, "\n")
}

// parseReport extracts the outermost JSON object from the model output.
func parseReport(content string) (*Report, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in diagnostic response: %.200s", content)
	}

	var report Report
	if err := json.Unmarshal([]byte(content[start:end+1]), &report); err != nil {
		return nil, fmt.Errorf("malformed diagnostic response: %w", err)
	}
	return &report, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
