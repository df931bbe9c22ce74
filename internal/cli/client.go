package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/config"
	"github.com/lydakis/hgx/internal/paths"
)

// clientSpawner replaces the process spawner in tests.
var clientSpawner cmdserver.Spawner

func newClientFactory(cfg *config.Config, logger *slog.Logger) cmdserver.Factory {
	return func(repo string) *cmdserver.Client {
		opts := []cmdserver.Option{
			cmdserver.WithHgPath(cfg.Hg),
			cmdserver.WithConfig(cfg.ConfigPairs(repo)...),
			cmdserver.WithLogger(logger),
		}
		if cfg.PlainEnabled() {
			opts = append(opts, cmdserver.WithEnv("HGPLAIN=1"))
		}
		if clientSpawner != nil {
			opts = append(opts, cmdserver.WithSpawner(clientSpawner))
		}
		return cmdserver.New(repo, opts...)
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openLogFile opens the state-dir log used while stdio carries MCP traffic.
// It falls back to stderr when the file cannot be opened.
func openLogFile() (io.Writer, func()) {
	if err := paths.EnsureDir(paths.StateDir()); err != nil {
		return rootStderr, func() {}
	}
	f, err := os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return rootStderr, func() {}
	}
	return f, func() { _ = f.Close() }
}
