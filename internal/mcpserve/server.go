// Package mcpserve exposes Mercurial command servers as MCP tools.
package mcpserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/config"
	"github.com/lydakis/hgx/internal/keepalive"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is the MCP implementation name.
const ServerName = "hgx"

// Server routes MCP tool calls to per-repository command servers.
type Server struct {
	cfg      *config.Config
	registry *cmdserver.Registry
	keep     *keepalive.Keepalive
	logger   *slog.Logger
	mcp      *server.MCPServer
}

// New creates a Server. Command servers idle longer than the configured
// idle timeout are stopped.
func New(cfg *config.Config, registry *cmdserver.Registry, logger *slog.Logger, version string) *Server {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
	}
	s.keep = keepalive.New(cfg.IdleTimeoutDuration(), s.evict)

	s.mcp = server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Run Mercurial commands through long-lived hg command servers. "+
			"Use hg_repos to list configured repositories."),
	)
	s.mcp.AddTool(runTool(), s.handleRun)
	s.mcp.AddTool(jsonTool(), s.handleJSON)
	s.mcp.AddTool(reposTool(), s.handleRepos)
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over the given streams until ctx is done or stdin ends.
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Close stops every command server.
func (s *Server) Close() error {
	s.keep.Stop()
	if err := s.registry.CloseAll(); err != nil {
		return fmt.Errorf("stopping command servers: %w", err)
	}
	return nil
}

func (s *Server) evict(repo string) {
	s.logger.Debug("stopping idle command server", "repo", repo)
	if err := s.registry.Remove(repo); err != nil {
		s.logger.Warn("stopping idle command server", "repo", repo, "error", err)
	}
}
