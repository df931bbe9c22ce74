package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	"github.com/lydakis/hgx/internal/paths"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config file and returns the parsed Config.
// If the config file does not exist, it returns an empty Config (no error).
func Load() (*Config, error) {
	return LoadFrom(paths.ConfigFile())
}

// LoadFrom reads and parses a config file at the given path.
func LoadFrom(path string) (*Config, error) {
	return loadFrom(path, true)
}

// LoadForEditFrom reads and parses a config file at the given path for edits.
// It skips env expansion so writes keep the ${ENV_VAR} placeholders.
func LoadForEditFrom(path string) (*Config, error) {
	return loadFrom(path, false)
}

func loadFrom(path string, expand bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Repos: make(map[string]RepoConfig)}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Repos == nil {
		cfg.Repos = make(map[string]RepoConfig)
	}
	if expand {
		expandConfigEnvVars(&cfg)
	}
	return &cfg, nil
}

// ExampleConfigPath returns the default config file path (for help messages).
func ExampleConfigPath() string {
	return paths.ConfigFile()
}

func expandConfigEnvVars(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Hg = expandEnvVars(cfg.Hg)
	cfg.DefaultRepo = expandEnvVars(cfg.DefaultRepo)
	for k, v := range cfg.HgConfig {
		cfg.HgConfig[k] = expandEnvVars(v)
	}
	for alias, rc := range cfg.Repos {
		cfg.Repos[alias] = expandRepoEnvVars(rc)
	}
}

func expandRepoEnvVars(rc RepoConfig) RepoConfig {
	rc.Path = expandEnvVars(rc.Path)
	for k, v := range rc.HgConfig {
		rc.HgConfig[k] = expandEnvVars(v)
	}
	return rc
}

// expandEnvVars replaces ${VAR_NAME} with the value of the environment variable.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // leave unresolved vars as-is
	})
}
