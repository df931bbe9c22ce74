package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lydakis/hgx/internal/config"
	"github.com/lydakis/hgx/internal/paths"
)

type addArgs struct {
	path      string
	name      string
	overwrite bool
	makeDef   bool
	help      bool
}

func maybeHandleAddCommand(args []string, stdout, stderr io.Writer) (bool, int) {
	if len(args) == 0 || args[0] != "add" {
		return false, 0
	}
	return true, runAddCommand(args[1:], stdout, stderr)
}

func runAddCommand(args []string, stdout, stderr io.Writer) int {
	parsed, err := parseAddArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "hgx: %v\n", err)
		printAddHelp(stderr)
		return ExitUsageErr
	}
	if parsed.help {
		printAddHelp(stdout)
		return ExitOK
	}

	repoPath, err := filepath.Abs(paths.ExpandHome(parsed.path))
	if err != nil {
		fmt.Fprintf(stderr, "hgx: add: %v\n", err)
		return ExitUsageErr
	}
	if err := checkRepository(repoPath); err != nil {
		fmt.Fprintf(stderr, "hgx: add: %v\n", err)
		return ExitUsageErr
	}

	alias := parsed.name
	if alias == "" {
		alias = filepath.Base(repoPath)
	}

	cfgPath := paths.ConfigFile()
	cfg, err := config.LoadForEditFrom(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "hgx: add: loading config: %v\n", err)
		return ExitInternal
	}

	existing, exists := cfg.Repos[alias]
	if exists && !parsed.overwrite {
		fmt.Fprintf(stderr, "hgx: add: repo %q already exists; rerun with --overwrite to replace it\n", alias)
		return ExitUsageErr
	}

	existing.Path = repoPath
	cfg.Repos[alias] = existing
	if parsed.makeDef {
		cfg.DefaultRepo = alias
	}
	if err := config.ValidateForCurrentEnv(cfg); err != nil {
		fmt.Fprintf(stderr, "hgx: add: invalid resulting config: %v\n", err)
		return ExitUsageErr
	}

	if err := config.SaveTo(cfgPath, cfg); err != nil {
		fmt.Fprintf(stderr, "hgx: add: writing config: %v\n", err)
		return ExitInternal
	}

	verb := "Added"
	if exists {
		verb = "Updated"
	}
	fmt.Fprintf(stdout, "%s repo %q (%s) in %s\n", verb, alias, repoPath, cfgPath)
	return ExitOK
}

// checkRepository reports whether path is the root of a Mercurial working
// copy.
func checkRepository(path string) error {
	info, err := os.Stat(filepath.Join(path, ".hg"))
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a Mercurial repository (no .hg directory)", path)
	}
	return nil
}

func parseAddArgs(args []string) (*addArgs, error) {
	parsed := &addArgs{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--help" || arg == "-h":
			parsed.help = true
		case arg == "--overwrite":
			parsed.overwrite = true
		case arg == "--default":
			parsed.makeDef = true
		case strings.HasPrefix(arg, "--name="):
			value := strings.TrimSpace(strings.TrimPrefix(arg, "--name="))
			if value == "" {
				return nil, fmt.Errorf("missing value for --name")
			}
			parsed.name = value
		case arg == "--name":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --name")
			}
			i++
			value := strings.TrimSpace(args[i])
			if value == "" || strings.HasPrefix(value, "-") {
				return nil, fmt.Errorf("missing value for --name")
			}
			parsed.name = value
		case strings.HasPrefix(arg, "-"):
			return nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			if parsed.path != "" {
				return nil, fmt.Errorf("unexpected positional argument: %s", arg)
			}
			parsed.path = strings.TrimSpace(arg)
		}
	}

	if parsed.help {
		return parsed, nil
	}
	if parsed.path == "" {
		return nil, fmt.Errorf("missing path (usage: hgx add <path>)")
	}

	return parsed, nil
}

func printAddHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  hgx add <path> [--name <alias>] [--default] [--overwrite]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Registers a repository alias in the hgx config.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	fmt.Fprintln(out, "  --name <alias>    Alias to register (default: the directory name).")
	fmt.Fprintln(out, "  --default         Make the repository the default_repo.")
	fmt.Fprintln(out, "  --overwrite       Replace an existing alias.")
	fmt.Fprintln(out, "  --help, -h        Show this help output.")
}
