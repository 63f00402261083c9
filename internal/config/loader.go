// Package config provides configuration loading for remedyd.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces remedyd environment variables.
	envPrefix = "REMEDYD_"
)

// Load reads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REMEDYD_WATCH_LOG_DIR, REMEDYD_QUOTA_MAX_PER_DAY, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// The configPath may be empty, in which case only environment variables
// and defaults apply.
//
// Environment variables use underscore separators and are uppercased;
// the first segment after the prefix selects the section:
//
//	REMEDYD_WATCH_LOG_DIR     -> watch.log_dir
//	REMEDYD_QUOTA_MAX_PER_DAY -> quota.max_per_day
//	REMEDYD_GITHUB_TOKEN      -> github.token
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if info.Size() > maxConfigFileSize {
				return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}

			// rawbytes avoids re-opening the file after validation.
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// REMEDYD_WATCH_LOG_DIR -> watch.log_dir: split on the first
		// underscore after the prefix; the remainder keeps its
		// underscores as the field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Watch.LogDir == "" {
		cfg.Watch.LogDir = "logs"
	}
	if cfg.Watch.FilePrefix == "" {
		cfg.Watch.FilePrefix = "server"
	}

	if cfg.State.Dir == "" {
		cfg.State.Dir = "logs/.state"
	}
	if cfg.State.Retention == 0 {
		cfg.State.Retention = Duration(7 * 24 * time.Hour)
	}

	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = Duration(5 * time.Minute)
	}
	if cfg.RateLimit.MaxPerHour == 0 {
		cfg.RateLimit.MaxPerHour = 10
	}
	if cfg.Quota.MaxPerDay == 0 {
		cfg.Quota.MaxPerDay = 5
	}
	if cfg.Lock.AcquireTimeout == 0 {
		cfg.Lock.AcquireTimeout = Duration(30 * time.Second)
	}

	if cfg.Git.Remote == "" {
		cfg.Git.Remote = "origin"
	}
	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = "remedyd"
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = "remedyd@localhost"
	}

	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}
	if len(cfg.GitHub.Labels) == 0 {
		cfg.GitHub.Labels = []string{"auto-fix"}
	}

	if cfg.Diagnose.Model == "" {
		cfg.Diagnose.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Diagnose.MaxTokens == 0 {
		cfg.Diagnose.MaxTokens = 1024
	}
	if !cfg.Diagnose.Token.IsSet() {
		cfg.Diagnose.Token = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}

	if cfg.Pipeline.BuildCommand == "" {
		cfg.Pipeline.BuildCommand = "go build ./..."
	}
	if cfg.Pipeline.TestCommand == "" {
		cfg.Pipeline.TestCommand = "go test ./..."
	}
	if cfg.Pipeline.LintCommand == "" {
		cfg.Pipeline.LintCommand = "go vet ./..."
	}

	if cfg.Notify.Username == "" {
		cfg.Notify.Username = "remedyd"
	}

	if cfg.Daemon.Schedule == "" {
		cfg.Daemon.Schedule = "*/5 * * * *"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
