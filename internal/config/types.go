package config

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultIdleTimeout is how long an idle command server is kept running by
// long-lived front ends.
const DefaultIdleTimeout = 60 * time.Second

// Config is the top-level hgx configuration.
type Config struct {
	// Hg is the hg executable. Empty means $HGX_HG, then PATH.
	Hg string `toml:"hg,omitempty"`
	// Plain sets HGPLAIN=1 for command servers. Defaults to true.
	Plain       *bool  `toml:"plain,omitempty"`
	LogLevel    string `toml:"log_level,omitempty"`
	IdleTimeout string `toml:"idle_timeout,omitempty"`
	// DefaultRepo is a repo alias or path used when none is given.
	DefaultRepo string `toml:"default_repo,omitempty"`

	// HgConfig holds section.name = value overrides passed to every server
	// with --config.
	HgConfig map[string]string     `toml:"config,omitempty"`
	Repos    map[string]RepoConfig `toml:"repos,omitempty"`
}

// RepoConfig names a repository.
type RepoConfig struct {
	Path string `toml:"path"`
	// HgConfig holds overrides for this repository only. They take
	// precedence over the top-level ones.
	HgConfig map[string]string `toml:"config,omitempty"`
}

// PlainEnabled reports whether HGPLAIN should be set.
func (c *Config) PlainEnabled() bool {
	if c == nil || c.Plain == nil {
		return true
	}
	return *c.Plain
}

// IdleTimeoutDuration returns the configured idle timeout. Invalid or
// missing values fall back to DefaultIdleTimeout; Validate reports them.
func (c *Config) IdleTimeoutDuration() time.Duration {
	if c == nil || strings.TrimSpace(c.IdleTimeout) == "" {
		return DefaultIdleTimeout
	}
	d, err := time.ParseDuration(strings.TrimSpace(c.IdleTimeout))
	if err != nil || d <= 0 {
		return DefaultIdleTimeout
	}
	return d
}

// Level returns the configured log level, warn by default.
func (c *Config) Level() slog.Level {
	if c == nil {
		return slog.LevelWarn
	}
	level, ok := parseLevel(c.LogLevel)
	if !ok {
		return slog.LevelWarn
	}
	return level
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return slog.LevelWarn, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// ConfigPairs returns the --config overrides for repo as sorted
// "section.name=value" pairs. repo is a resolved path; overrides of the
// alias pointing at it are merged over the global ones.
func (c *Config) ConfigPairs(repo string) []string {
	if c == nil {
		return nil
	}
	merged := make(map[string]string, len(c.HgConfig))
	for k, v := range c.HgConfig {
		merged[k] = v
	}
	if repo != "" {
		for _, alias := range sortedKeys(c.Repos) {
			rc := c.Repos[alias]
			if cleanPath(rc.Path) != repo {
				continue
			}
			for k, v := range rc.HgConfig {
				merged[k] = v
			}
		}
	}

	keys := sortedKeys(merged)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+merged[k])
	}
	return pairs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
