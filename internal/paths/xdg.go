package paths

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultHgPath is used when no hg executable can be found on PATH.
const DefaultHgPath = "/usr/bin/hg"

// HgEnv overrides the hg executable when no path is configured.
const HgEnv = "HGX_HG"

var lookPathFn = exec.LookPath

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func xdgDir(envVar, fallbackSuffix string) string {
	if v := os.Getenv(envVar); v != "" {
		return filepath.Join(v, "hgx")
	}
	return filepath.Join(homeDir(), fallbackSuffix, "hgx")
}

// ConfigDir returns the hgx config directory ($XDG_CONFIG_HOME/hgx).
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the hgx state directory ($XDG_STATE_HOME/hgx).
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// ConfigFile returns the path to config.toml.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// LogFile returns the path of the debug log used by long-running front ends.
func LogFile() string {
	return filepath.Join(StateDir(), "hgx.log")
}

// EnsureDir creates a directory and parents if needed.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// HgExecutable resolves the hg binary: the configured path, then $HGX_HG,
// then the first hg on PATH, then DefaultHgPath.
func HgExecutable(configured string) string {
	if configured != "" {
		return ExpandHome(configured)
	}
	if v := os.Getenv(HgEnv); v != "" {
		return ExpandHome(v)
	}
	if p, err := lookPathFn("hg"); err == nil {
		return p
	}
	return DefaultHgPath
}

// ExpandHome replaces a leading ~/ with the user's home directory.
func ExpandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
