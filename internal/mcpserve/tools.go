package mcpserve

import (
	"context"
	"errors"
	"fmt"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/options"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names.
const (
	ToolRun   = "hg_run"
	ToolJSON  = "hg_json"
	ToolRepos = "hg_repos"
)

var errBadArgument = errors.New("invalid argument")

func commandSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"repo": map[string]any{
				"type":        "string",
				"description": "Repository alias from the hgx config or a path. Defaults to default_repo.",
			},
			"command": map[string]any{
				"type":        "string",
				"description": "hg command name, e.g. log or status.",
			},
			"args": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Positional arguments.",
			},
			"options": map[string]any{
				"type": "object",
				"description": "Command options by name. true adds the flag, false negates it, " +
					"a string passes a value. Single-letter names become short flags.",
				"additionalProperties": map[string]any{"type": []string{"string", "boolean", "null"}},
			},
		},
		Required: []string{"command"},
	}
}

func runTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRun,
		Description: "Run an hg command and return its output.",
		InputSchema: commandSchema(),
	}
}

func jsonTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolJSON,
		Description: "Run an hg command with the json template (-T json) and return the decoded result.",
		InputSchema: commandSchema(),
	}
}

func reposTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolRepos,
		Description: "List configured repositories and the ones with a running command server.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
		OutputSchema: mcp.ToolOutputSchema{
			Type: "object",
			Properties: map[string]any{
				"default": map[string]any{"type": "string"},
				"repos":   map[string]any{"type": "array"},
				"running": map[string]any{"type": "array"},
			},
			Required: []string{"repos", "running"},
		},
	}
}

type commandRequest struct {
	repo    string
	command string
	args    []string
	opts    options.Set
}

func (s *Server) parseCommandRequest(request mcp.CallToolRequest) (*commandRequest, error) {
	command, err := request.RequireString("command")
	if err != nil || command == "" {
		return nil, fmt.Errorf("%w: command is required", errBadArgument)
	}

	raw := request.GetArguments()
	req := &commandRequest{command: command}

	name, _ := raw["repo"].(string)
	repo, err := s.cfg.ResolveRepo(name)
	if err != nil {
		return nil, err
	}
	req.repo = repo

	if v, ok := raw["args"]; ok && v != nil {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: args must be an array of strings", errBadArgument)
		}
		for i, item := range list {
			arg, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: args[%d] must be a string", errBadArgument, i)
			}
			req.args = append(req.args, arg)
		}
	}

	if v, ok := raw["options"]; ok && v != nil {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: options must be an object", errBadArgument)
		}
		req.opts, err = options.FromMap(m)
		if err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (s *Server) run(ctx context.Context, req *commandRequest) ([][]byte, error) {
	var out [][]byte
	err := s.keep.Do(req.repo, func() error {
		var err error
		out, err = s.registry.Run(ctx, req.repo, req.command, req.args, req.opts)
		return err
	})
	if cmdserver.Broken(err) {
		// The registry has dropped the client; nothing is left to evict.
		s.keep.Forget(req.repo)
	}
	return out, err
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := s.parseCommandRequest(request)
	if err != nil {
		return s.toolError(err), nil
	}

	out, err := s.run(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}
	return mcp.NewToolResultText(cmdserver.Join(out)), nil
}

func (s *Server) handleJSON(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := s.parseCommandRequest(request)
	if err != nil {
		return s.toolError(err), nil
	}
	req.opts = req.opts.String("T", cmdserver.JSONTemplate)

	out, err := s.run(ctx, req)
	if err != nil {
		return s.toolError(err), nil
	}
	decoded, err := cmdserver.DecodeJSON[any](req.command, out)
	if err != nil {
		return s.toolError(err), nil
	}
	return mcp.NewToolResultStructured(map[string]any{"result": decoded}, cmdserver.Join(out)), nil
}

type repoEntry struct {
	Alias string `json:"alias"`
	Path  string `json:"path"`
}

func (s *Server) handleRepos(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	repos := make([]repoEntry, 0, len(s.cfg.Repos))
	for _, r := range s.cfg.RepoList() {
		repos = append(repos, repoEntry{Alias: r.Alias, Path: r.Path})
	}

	def, err := s.cfg.ResolveRepo("")
	if err != nil {
		def = ""
	}

	running := s.registry.Running()
	if running == nil {
		running = []string{}
	}

	result := map[string]any{
		"default": def,
		"repos":   repos,
		"running": running,
	}
	return mcp.NewToolResultStructuredOnly(result), nil
}
