package config

import (
	"strings"
	"testing"
)

func TestValidateAcceptsEmptyAndCompleteConfigs(t *testing.T) {
	if err := Validate(&Config{}); err != nil {
		t.Fatalf("Validate(empty) error = %v, want nil", err)
	}

	cfg := &Config{
		LogLevel:    "info",
		IdleTimeout: "90s",
		DefaultRepo: "main",
		HgConfig:    map[string]string{"extensions.topic": ""},
		Repos:       map[string]RepoConfig{"main": {Path: "/src/main"}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{
		LogLevel:    "chatty",
		IdleTimeout: "0s",
		DefaultRepo: "nowhere",
		HgConfig:    map[string]string{"nodot": "x"},
		Repos: map[string]RepoConfig{
			"empty":   {},
			"bad/one": {Path: "/src/x"},
		},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() error = nil, want non-nil")
	}

	msg := err.Error()
	for _, want := range []string{
		`log_level: unknown level "chatty"`,
		"idle_timeout: must be > 0",
		"default_repo: unknown repository",
		`config."nodot": key must be section.name`,
		"repos.empty: missing path",
		`repos."bad/one": alias must be a plain name`,
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Validate() error = %q, want %q", msg, want)
		}
	}
}

func TestValidateRejectsBadDuration(t *testing.T) {
	err := Validate(&Config{IdleTimeout: "soon"})
	if err == nil || !strings.Contains(err.Error(), "idle_timeout: invalid duration") {
		t.Fatalf("Validate() error = %v, want invalid duration", err)
	}
}

func TestValidateForCurrentEnvExpandsWithoutMutatingSource(t *testing.T) {
	t.Setenv("HGX_TEST_TIMEOUT_REPO", "/src/main")

	cfg := &Config{
		DefaultRepo: "${HGX_TEST_TIMEOUT_REPO}",
	}

	if err := Validate(cfg); err == nil {
		t.Fatal("Validate() error = nil, want non-nil for raw placeholder repo")
	}
	if err := ValidateForCurrentEnv(cfg); err != nil {
		t.Fatalf("ValidateForCurrentEnv() error = %v, want nil", err)
	}
	if cfg.DefaultRepo != "${HGX_TEST_TIMEOUT_REPO}" {
		t.Fatalf("source default_repo mutated to %q, want placeholder preserved", cfg.DefaultRepo)
	}
}
