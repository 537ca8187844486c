package main

import (
	"fmt"
	"io"
	"os"

	"gauntlet/internal/harness/manifest"
)

// Exit codes: 0 all selected units passed, 1 at least one failed, 2 usage or
// validation error detected before any unit executes.
const (
	exitPass  = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	cli := &cli{stdout: os.Stdout, stderr: os.Stderr, traceFile: os.Getenv("GAUNTLET_TRACE_FILE")}
	os.Exit(cli.dispatch(os.Args[1:]))
}

type cli struct {
	stdout io.Writer
	stderr io.Writer

	// traceFile is resolved once from the environment by main; core logic
	// never reads ambient state.
	traceFile string
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, "usage:")
	fmt.Fprintln(c.stderr, "  gauntlet run --manifest <file.json> [--binary <path>] [--repo-root <dir>] [--output-dir <dir>]")
	fmt.Fprintln(c.stderr, "               [--config <file>] [--only <a,b>] [--fail-fast] [--keep-going] [--timeout-seconds <n>]")
	fmt.Fprintln(c.stderr, "               [--workers <n>] [--json] [--report-file <path>] [--summary <path>] [--list]")
	fmt.Fprintln(c.stderr, "  gauntlet validate --manifest <file.json>")
	fmt.Fprintln(c.stderr, "  gauntlet retry [--outcomes <a,b>] [--max-attempts <n>] [--base-delay-seconds <n>]")
	fmt.Fprintln(c.stderr, "                 [--cap-delay-seconds <n>] [--max-total-delay-seconds <n>] [--json]")
	fmt.Fprintln(c.stderr, "                 [--summary <path>] [--output <path>] [--dry-run]")
}

func (c *cli) dispatch(args []string) int {
	if len(args) < 1 {
		c.usage()
		return exitUsage
	}
	switch args[0] {
	case "run":
		return c.cmdRun(args[1:])
	case "validate":
		return c.cmdValidate(args[1:])
	case "retry":
		return c.cmdRetry(args[1:])
	default:
		fmt.Fprintf(c.stderr, "unknown command: %s\n", args[0])
		c.usage()
		return exitUsage
	}
}

// flagValue consumes the value following a flag, reporting a usage error when
// it is missing.
func (c *cli) flagValue(args []string, i *int, name string) (string, bool) {
	*i++
	if *i >= len(args) {
		fmt.Fprintf(c.stderr, "%s requires a value\n", name)
		return "", false
	}
	return args[*i], true
}

func (c *cli) cmdValidate(args []string) int {
	var manifestPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			v, ok := c.flagValue(args, &i, "--manifest")
			if !ok {
				return exitUsage
			}
			manifestPath = v
		default:
			fmt.Fprintf(c.stderr, "unknown arg: %s\n", args[i])
			return exitUsage
		}
	}
	if manifestPath == "" {
		c.usage()
		return exitUsage
	}
	m, err := manifest.Load(manifestPath)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}
	fmt.Fprintf(c.stdout, "ok: %s (units=%d)\n", manifestPath, len(m.Units))
	return exitPass
}
