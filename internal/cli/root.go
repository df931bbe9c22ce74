package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lydakis/hgx/cmdserver"
	"github.com/lydakis/hgx/internal/config"
	"github.com/lydakis/hgx/internal/mcpserve"
	"github.com/lydakis/hgx/options"
)

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if handled, code := handleRootFlags(args); handled {
		return code
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(rootStderr, "hgx: %v\n", err)
		return ExitInternal
	}

	if handled, code := maybeHandleAddCommand(args, rootStdout, rootStderr); handled {
		return code
	}

	if verr := config.Validate(cfg); verr != nil {
		fmt.Fprintf(rootStderr, "hgx: invalid config: %v\n", verr)
		return ExitUsageErr
	}

	if len(args) == 0 || (len(args) == 1 && args[0] == "repos") {
		return listRepos(cfg, rootStdout)
	}
	if len(args) == 1 && args[0] == "mcp" {
		return serveMCP(cfg)
	}

	cmd, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(rootStderr, "hgx: %v\n", err)
		return ExitUsageErr
	}
	return runCommand(cfg, cmd)
}

func listRepos(cfg *config.Config, out io.Writer) int {
	repos := cfg.RepoList()
	if len(repos) == 0 {
		fmt.Fprintln(out, "No repositories configured.")
		fmt.Fprintf(out, "Add one with `hgx add <path>` or edit %s\n", config.ExampleConfigPath())
		return ExitOK
	}

	def, _ := cfg.ResolveRepo("")
	for _, r := range repos {
		marker := " "
		if r.Path == def {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\t%s\n", marker, r.Alias, r.Path)
	}
	return ExitOK
}

type runArgs struct {
	repo    string
	json    bool
	debug   bool
	command string
	args    []string
}

// parseRunArgs reads hgx flags up to the command name. Everything after the
// command belongs to hg.
func parseRunArgs(args []string) (runArgs, error) {
	var parsed runArgs

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			if i+1 >= len(args) {
				return runArgs{}, fmt.Errorf("missing command after --")
			}
			parsed.command = args[i+1]
			parsed.args = args[i+2:]
			return parsed, nil
		case arg == "-R" || arg == "--repository" || arg == "--repo":
			if i+1 >= len(args) || strings.TrimSpace(args[i+1]) == "" {
				return runArgs{}, fmt.Errorf("missing value for %s", arg)
			}
			i++
			parsed.repo = args[i]
		case strings.HasPrefix(arg, "--repository="):
			parsed.repo = strings.TrimPrefix(arg, "--repository=")
		case strings.HasPrefix(arg, "--repo="):
			parsed.repo = strings.TrimPrefix(arg, "--repo=")
		case strings.HasPrefix(arg, "-R") && len(arg) > 2:
			parsed.repo = arg[2:]
		case arg == "--json":
			parsed.json = true
		case arg == "--debug":
			parsed.debug = true
		case strings.HasPrefix(arg, "-"):
			return runArgs{}, fmt.Errorf("unknown flag: %s (put hg flags after the command)", arg)
		default:
			parsed.command = arg
			parsed.args = args[i+1:]
			return parsed, nil
		}
	}
	return runArgs{}, fmt.Errorf("missing command (usage: hgx [-R <repo>] <command> [ARGS...])")
}

func runCommand(cfg *config.Config, cmd runArgs) int {
	level := cfg.Level()
	if cmd.debug {
		level = slog.LevelDebug
	}
	logger := newLogger(rootStderr, level)

	repo, err := cfg.ResolveRepo(cmd.repo)
	if err != nil {
		fmt.Fprintf(rootStderr, "hgx: %v\n", err)
		return exitCode(err)
	}

	client := newClientFactory(cfg, logger)(repo)
	defer client.Stop() //nolint: errcheck
	client.RegisterInputReader(rootStdin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.json {
		raw, err := cmdserver.RunRawJSON(ctx, client, cmd.command, cmd.args, options.Set{})
		if err != nil {
			return reportError(err)
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, raw, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(raw)
		}
		pretty.WriteByte('\n')
		rootStdout.Write(pretty.Bytes()) //nolint:errcheck
		return ExitOK
	}

	chunks, err := client.Run(ctx, cmd.command, cmd.args, options.Set{})
	if err != nil {
		return reportError(err)
	}
	for _, chunk := range chunks {
		rootStdout.Write(chunk) //nolint:errcheck
	}
	return ExitOK
}

func reportError(err error) int {
	var cmdErr *cmdserver.CommandError
	if errors.As(err, &cmdErr) {
		fmt.Fprintln(rootStderr, cmdErr.Message())
	} else {
		fmt.Fprintf(rootStderr, "hgx: %v\n", err)
	}
	return exitCode(err)
}

func serveMCP(cfg *config.Config) int {
	logOut, closeLog := openLogFile()
	defer closeLog()
	logger := newLogger(logOut, cfg.Level())

	registry := cmdserver.NewRegistry(newClientFactory(cfg, logger))
	srv := mcpserve.New(cfg, registry, logger, buildVersion)
	defer srv.Close() //nolint: errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serving MCP over stdio", "version", buildVersion)
	if err := srv.Serve(ctx, rootStdin, rootStdout); err != nil {
		fmt.Fprintf(rootStderr, "hgx: mcp: %v\n", err)
		return ExitInternal
	}
	return ExitOK
}
