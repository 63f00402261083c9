package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for human-readable config values ("30s", "5m").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Secret wraps strings that should be redacted in logs and serialization.
// The zero value is an unset secret.
type Secret string

// String implements fmt.Stringer. Always returns the redacted value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the actual secret value. Use sparingly.
func (s Secret) Value() string {
	return string(s)
}

// IsSet returns true if the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON implements json.Marshaler. Always returns the redacted value.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("[REDACTED]")
}

// MarshalText implements encoding.TextMarshaler. Always returns the redacted value.
func (s Secret) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(""), nil
	}
	return []byte("[REDACTED]"), nil
}

// Config is the root remedyd configuration.
type Config struct {
	Watch     WatchConfig     `koanf:"watch"`
	State     StateConfig     `koanf:"state"`
	Dedup     DedupConfig     `koanf:"dedup"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Quota     QuotaConfig     `koanf:"quota"`
	Lock      LockConfig      `koanf:"lock"`
	Scope     ScopeConfig     `koanf:"scope"`
	Git       GitConfig       `koanf:"git"`
	GitHub    GitHubConfig    `koanf:"github"`
	Diagnose  DiagnoseConfig  `koanf:"diagnose"`
	Fixer     FixerConfig     `koanf:"fixer"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Notify    NotifyConfig    `koanf:"notify"`
	Redact    RedactConfig    `koanf:"redact"`
	Daemon    DaemonConfig    `koanf:"daemon"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// WatchConfig describes the monitored log stream.
type WatchConfig struct {
	// LogDir is the directory containing per-day log files.
	LogDir string `koanf:"log_dir"`

	// FilePrefix is the log file name prefix; files are named
	// <prefix>.YYYY-MM-DD.log.
	FilePrefix string `koanf:"file_prefix"`
}

// StateConfig controls the on-disk state directory.
type StateConfig struct {
	// Dir is the state directory for checkpoints, dedup tables,
	// quota counters, rate-limit windows and the lock marker.
	Dir string `koanf:"dir"`

	// Retention is how long superseded per-day state files are kept.
	Retention Duration `koanf:"retention"`
}

// DedupConfig controls fingerprint deduplication.
type DedupConfig struct {
	// Window is the trailing suppression interval for a fingerprint.
	Window Duration `koanf:"window"`
}

// RateLimitConfig caps diagnostic-service invocations.
type RateLimitConfig struct {
	// MaxPerHour is the ceiling of diagnostic calls in a rolling hour.
	MaxPerHour int `koanf:"max_per_hour"`
}

// QuotaConfig caps published remediation pull requests.
type QuotaConfig struct {
	// MaxPerDay is the ceiling of published fixes per calendar day.
	MaxPerDay int `koanf:"max_per_day"`
}

// LockConfig controls the cross-process remediation lock.
type LockConfig struct {
	// AcquireTimeout bounds how long a run waits for the lock.
	AcquireTimeout Duration `koanf:"acquire_timeout"`
}

// ScopeConfig tunes the fix scope validator.
type ScopeConfig struct {
	// ExtraDeny adds terms to the built-in deny list.
	ExtraDeny []string `koanf:"extra_deny"`

	// ExtraAllow adds terms to the built-in allow list.
	ExtraAllow []string `koanf:"extra_allow"`

	// AllowedPaths are glob patterns the fixer may touch.
	AllowedPaths []string `koanf:"allowed_paths"`

	// ForbiddenPaths are glob patterns the fixer must never touch.
	// Forbidden wins over allowed.
	ForbiddenPaths []string `koanf:"forbidden_paths"`
}

// GitConfig describes the repository the fixer operates on.
type GitConfig struct {
	// RepoPath is the working copy root.
	RepoPath string `koanf:"repo_path"`

	// Remote is the push target (default: origin).
	Remote string `koanf:"remote"`

	// AuthorName and AuthorEmail identify automated commits.
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// GitHubConfig describes the code-hosting target.
type GitHubConfig struct {
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
	Token Secret `koanf:"token"`

	// BaseBranch is the PR base (default: main).
	BaseBranch string `koanf:"base_branch"`

	// Labels are attached to every remediation PR and issue.
	Labels []string `koanf:"labels"`
}

// DiagnoseConfig configures the AI diagnostic collaborator.
type DiagnoseConfig struct {
	// Model is the Anthropic model used for diagnosis.
	Model string `koanf:"model"`

	// Token is the API key. Falls back to ANTHROPIC_API_KEY.
	Token Secret `koanf:"token"`

	// MaxTokens bounds the diagnostic completion.
	MaxTokens int `koanf:"max_tokens"`

	// SourceRoot maps log targets to source files for prompt context.
	SourceRoot string `koanf:"source_root"`
}

// FixerConfig configures the external code-modification agent.
type FixerConfig struct {
	// Command is the agent executable; the fix description is passed
	// on stdin and the target path as an argument.
	Command string `koanf:"command"`

	// Args are prepended to the generated arguments.
	Args []string `koanf:"args"`
}

// PipelineConfig configures the build/test/lint validation gate.
type PipelineConfig struct {
	// BuildCommand, TestCommand and LintCommand are run sequentially
	// in the repository root; any failure fails the gate.
	BuildCommand string `koanf:"build_command"`
	TestCommand  string `koanf:"test_command"`
	LintCommand  string `koanf:"lint_command"`
}

// NotifyConfig configures the outbound notification webhook.
type NotifyConfig struct {
	// WebhookURL is a Discord-compatible webhook endpoint.
	WebhookURL Secret `koanf:"webhook_url"`

	// Username overrides the webhook display name.
	Username string `koanf:"username"`
}

// RedactConfig controls secret scrubbing of outbound content: LLM
// prompts and notification payloads.
type RedactConfig struct {
	// Disabled turns scrubbing off. The zero value keeps it on.
	Disabled bool `koanf:"disabled"`

	// AllowList contains regex patterns whose matches are never
	// treated as secrets (test fixtures, documented placeholders).
	AllowList []string `koanf:"allow_list"`
}

// DaemonConfig controls daemon mode.
type DaemonConfig struct {
	// Schedule is a cron expression for periodic scan cycles.
	Schedule string `koanf:"schedule"`

	// FollowLog also triggers a scan on log file write events.
	FollowLog bool `koanf:"follow_log"`

	// OpsAddr serves /healthz and /metrics when non-empty.
	OpsAddr string `koanf:"ops_addr"`
}

// LoggingConfig controls remedyd's own log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Watch.LogDir == "" {
		return fmt.Errorf("watch.log_dir is required")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state.dir is required")
	}
	if c.RateLimit.MaxPerHour < 1 {
		return fmt.Errorf("ratelimit.max_per_hour must be positive, got %d", c.RateLimit.MaxPerHour)
	}
	if c.Quota.MaxPerDay < 1 {
		return fmt.Errorf("quota.max_per_day must be positive, got %d", c.Quota.MaxPerDay)
	}
	if c.Lock.AcquireTimeout.Std() <= 0 {
		return fmt.Errorf("lock.acquire_timeout must be positive")
	}
	if c.Dedup.Window.Std() <= 0 {
		return fmt.Errorf("dedup.window must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
