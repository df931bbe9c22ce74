package cli

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
)

var (
	rootStdin    io.Reader = os.Stdin
	rootStdout   io.Writer = os.Stdout
	rootStderr   io.Writer = os.Stderr
	buildVersion           = "dev"
)

func init() {
	buildVersion = resolveBuildVersion(buildVersion)
}

func handleRootFlags(args []string) (bool, int) {
	if len(args) != 1 {
		return false, 0
	}

	switch args[0] {
	case "--version", "-V":
		fmt.Fprintf(rootStdout, "hgx %s\n", buildVersion)
		return true, 0
	case "--help", "-h":
		printRootHelp(rootStdout)
		return true, 0
	default:
		return false, 0
	}
}

func resolveBuildVersion(defaultVersion string) string {
	if defaultVersion != "" && defaultVersion != "dev" {
		return defaultVersion
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return defaultVersion
	}
	if info.Main.Version == "" || info.Main.Version == "(devel)" {
		return defaultVersion
	}
	return info.Main.Version
}

func printRootHelp(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  hgx")
	fmt.Fprintln(out, "  hgx [-R <repo>] [--json] [--debug] <command> [ARGS...]")
	fmt.Fprintln(out, "  hgx repos")
	fmt.Fprintln(out, "  hgx add <path> [--name <alias>] [--overwrite]")
	fmt.Fprintln(out, "  hgx mcp")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Runs hg commands through a command server. Arguments after the command")
	fmt.Fprintln(out, "are passed to hg unchanged.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Flags:")
	fmt.Fprintln(out, "  -R, --repository <repo>  Repository alias or path (default: default_repo)")
	fmt.Fprintln(out, "  --json                   Run with -T json and pretty-print the result")
	fmt.Fprintln(out, "  --debug                  Log protocol traffic to stderr")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Global flags:")
	fmt.Fprintln(out, "  --help, -h       Show help")
	fmt.Fprintln(out, "  --version, -V    Show version")
}
