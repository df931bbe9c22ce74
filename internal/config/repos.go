package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lydakis/hgx/internal/paths"
)

// ErrUnknownRepo is returned for a repo name that is neither a configured
// alias nor a path.
var ErrUnknownRepo = errors.New("unknown repository")

// Repo is a configured repository alias.
type Repo struct {
	Alias string
	Path  string
}

// ResolveRepo maps a repo alias or path onto a repository path. An empty
// name resolves the default repo, and to "" (no repository) when none is
// configured.
func (c *Config) ResolveRepo(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		if c == nil || strings.TrimSpace(c.DefaultRepo) == "" {
			return "", nil
		}
		name = strings.TrimSpace(c.DefaultRepo)
	}

	if c != nil {
		if rc, ok := c.Repos[name]; ok {
			return cleanPath(rc.Path), nil
		}
	}
	if looksLikePath(name) {
		return cleanPath(name), nil
	}
	return "", fmt.Errorf("%w: %q is not a configured alias or a path", ErrUnknownRepo, name)
}

// RepoList returns the configured aliases sorted by name.
func (c *Config) RepoList() []Repo {
	if c == nil {
		return nil
	}
	repos := make([]Repo, 0, len(c.Repos))
	for _, alias := range sortedKeys(c.Repos) {
		repos = append(repos, Repo{Alias: alias, Path: cleanPath(c.Repos[alias].Path)})
	}
	return repos
}

func looksLikePath(name string) bool {
	return strings.ContainsRune(name, filepath.Separator) ||
		strings.HasPrefix(name, "~") ||
		name == "." || name == ".."
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = paths.ExpandHome(p)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
