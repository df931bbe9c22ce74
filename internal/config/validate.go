package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks configuration invariants and returns actionable errors.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var errs []error
	if cfg.Hg != "" && strings.TrimSpace(cfg.Hg) == "" {
		errs = append(errs, fmt.Errorf("hg: must not be blank"))
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level: unknown level %q, want debug, info, warn or error", cfg.LogLevel))
	}
	if cfg.IdleTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(cfg.IdleTimeout))
		if err != nil {
			errs = append(errs, fmt.Errorf("idle_timeout: invalid duration %q: %w", cfg.IdleTimeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("idle_timeout: must be > 0, got %q", cfg.IdleTimeout))
		}
	}
	if cfg.DefaultRepo != "" {
		if _, err := cfg.ResolveRepo(cfg.DefaultRepo); err != nil {
			errs = append(errs, fmt.Errorf("default_repo: %w", err))
		}
	}

	errs = append(errs, validateHgConfig("config", cfg.HgConfig)...)
	for _, alias := range sortedKeys(cfg.Repos) {
		errs = append(errs, validateRepo(alias, cfg.Repos[alias])...)
	}

	return errors.Join(errs...)
}

// ValidateForCurrentEnv checks config invariants after expanding ${ENV_VAR}
// placeholders against the current process environment.
func ValidateForCurrentEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	expanded := cloneConfig(cfg)
	expandConfigEnvVars(expanded)
	return Validate(expanded)
}

func cloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}

	cloned := *cfg
	if cfg.Plain != nil {
		plain := *cfg.Plain
		cloned.Plain = &plain
	}
	cloned.HgConfig = cloneStringMap(cfg.HgConfig)
	cloned.Repos = make(map[string]RepoConfig, len(cfg.Repos))
	for alias, rc := range cfg.Repos {
		rc.HgConfig = cloneStringMap(rc.HgConfig)
		cloned.Repos[alias] = rc
	}
	return &cloned
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func validateRepo(alias string, rc RepoConfig) []error {
	var errs []error

	if alias == "" || strings.ContainsAny(alias, "/\\ \t") || strings.HasPrefix(alias, "~") {
		errs = append(errs, fmt.Errorf("repos.%q: alias must be a plain name without spaces or path separators", alias))
	}
	if strings.TrimSpace(rc.Path) == "" {
		errs = append(errs, fmt.Errorf("repos.%s: missing path", alias))
	}
	errs = append(errs, validateHgConfig("repos."+alias+".config", rc.HgConfig)...)
	return errs
}

// validateHgConfig checks that every key has the section.name form hg
// expects from --config.
func validateHgConfig(prefix string, m map[string]string) []error {
	var errs []error
	for _, key := range sortedKeys(m) {
		section, name, ok := strings.Cut(key, ".")
		if !ok || section == "" || name == "" {
			errs = append(errs, fmt.Errorf("%s.%q: key must be section.name", prefix, key))
		}
	}
	return errs
}
