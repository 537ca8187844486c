package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gauntlet/internal/harness/artifact"
	"gauntlet/internal/harness/config"
	"gauntlet/internal/harness/manifest"
	"gauntlet/internal/harness/orchestrator"
	"gauntlet/internal/harness/report"
)

type runFlags struct {
	manifestPath   string
	binary         string
	repoRoot       string
	outputDir      string
	configPath     string
	only           []string
	failFast       bool
	keepGoing      bool
	timeoutSeconds int
	workers        int
	asJSON         bool
	reportFile     string
	summaryPath    string
	list           bool
}

func (c *cli) parseRunFlags(args []string) (*runFlags, bool) {
	f := &runFlags{repoRoot: ".", workers: 0, timeoutSeconds: 0}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--manifest":
			v, ok := c.flagValue(args, &i, "--manifest")
			if !ok {
				return nil, false
			}
			f.manifestPath = v
		case "--binary":
			v, ok := c.flagValue(args, &i, "--binary")
			if !ok {
				return nil, false
			}
			f.binary = v
		case "--repo-root":
			v, ok := c.flagValue(args, &i, "--repo-root")
			if !ok {
				return nil, false
			}
			f.repoRoot = v
		case "--output-dir":
			v, ok := c.flagValue(args, &i, "--output-dir")
			if !ok {
				return nil, false
			}
			f.outputDir = v
		case "--config":
			v, ok := c.flagValue(args, &i, "--config")
			if !ok {
				return nil, false
			}
			f.configPath = v
		case "--only":
			v, ok := c.flagValue(args, &i, "--only")
			if !ok {
				return nil, false
			}
			for _, name := range strings.Split(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					f.only = append(f.only, name)
				}
			}
		case "--fail-fast":
			f.failFast = true
		case "--keep-going":
			f.keepGoing = true
		case "--timeout-seconds":
			v, ok := c.flagValue(args, &i, "--timeout-seconds")
			if !ok {
				return nil, false
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				fmt.Fprintf(c.stderr, "--timeout-seconds must be a positive integer (got %q)\n", v)
				return nil, false
			}
			f.timeoutSeconds = n
		case "--workers":
			v, ok := c.flagValue(args, &i, "--workers")
			if !ok {
				return nil, false
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				fmt.Fprintf(c.stderr, "--workers must be >= 1 (got %q)\n", v)
				return nil, false
			}
			f.workers = n
		case "--json":
			f.asJSON = true
		case "--report-file":
			v, ok := c.flagValue(args, &i, "--report-file")
			if !ok {
				return nil, false
			}
			f.reportFile = v
		case "--summary":
			v, ok := c.flagValue(args, &i, "--summary")
			if !ok {
				return nil, false
			}
			f.summaryPath = v
		case "--list":
			f.list = true
		default:
			fmt.Fprintf(c.stderr, "unknown arg: %s\n", args[i])
			return nil, false
		}
	}
	if f.manifestPath == "" {
		c.usage()
		return nil, false
	}
	if f.failFast && f.keepGoing {
		fmt.Fprintln(c.stderr, "--fail-fast and --keep-going are mutually exclusive")
		return nil, false
	}
	return f, true
}

func (c *cli) cmdRun(args []string) int {
	f, ok := c.parseRunFlags(args)
	if !ok {
		return exitUsage
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			fmt.Fprintln(c.stderr, err)
			return exitUsage
		}
		cfg = loaded
	}

	m, err := manifest.Load(f.manifestPath)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}

	if f.list {
		return c.printInventory(m, f.asJSON)
	}

	repoRoot, err := filepath.Abs(f.repoRoot)
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}
	outputDir := f.outputDir
	if outputDir == "" {
		outputDir = cfg.Run.OutputDir
	}
	outputDir = artifact.ResolvePath(repoRoot, outputDir)

	timeout := time.Duration(f.timeoutSeconds) * time.Second
	if f.timeoutSeconds == 0 && cfg.Run.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Run.TimeoutSeconds) * time.Second
	}
	workers := f.workers
	if workers == 0 {
		workers = cfg.Run.Workers
	}
	// Fail-fast is the default; --keep-going or config opts out. Parallel
	// mode implies keep-going, so only an explicit --fail-fast survives a
	// --workers > 1 run (and is rejected downstream).
	failFast := !f.keepGoing && !cfg.Run.KeepGoing
	if workers > 1 && !f.failFast {
		failFast = false
	}
	if f.failFast {
		failFast = true
	}

	binary := f.binary
	if binary != "" {
		binary = artifact.ResolvePath(repoRoot, binary)
	}
	if hasCommandUnits(m) {
		if binary == "" {
			fmt.Fprintln(c.stderr, "--binary is required for command manifests")
			return exitUsage
		}
		if info, err := os.Stat(binary); err != nil || info.IsDir() {
			fmt.Fprintf(c.stderr, "binary does not exist: %s\n", binary)
			return exitUsage
		}
	}

	traceFile := cfg.Trace.File
	if c.traceFile != "" {
		traceFile = c.traceFile
	}

	progress := c.stdout
	if f.asJSON {
		// Keep stdout clean so the JSON document is the only stdout output.
		progress = c.stderr
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Manifest:     m,
		RepoRoot:     repoRoot,
		Binary:       binary,
		OutputDir:    outputDir,
		Only:         f.only,
		FailFast:     failFast,
		Timeout:      timeout,
		Workers:      workers,
		ExcludeGlobs: cfg.ArtifactPolicy.ExcludeGlobs,
		TraceFile:    traceFile,
		Progress:     progress,
	})
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitUsage
	}

	rep, err := orch.Run(context.Background())
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		var selErr *orchestrator.SelectionError
		if errors.As(err, &selErr) {
			return exitUsage
		}
		return exitFail
	}

	// One set of bytes backs the report file, --report-file, and --json
	// output so the representations cannot drift.
	data, err := rep.EncodeJSON()
	if err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitFail
	}
	if err := report.WriteFile(filepath.Join(outputDir, "report.json"), data); err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitFail
	}
	if f.reportFile != "" {
		if err := report.WriteFile(f.reportFile, data); err != nil {
			fmt.Fprintln(c.stderr, err)
			return exitFail
		}
	}
	if err := rep.AppendMarkdownSummary(f.summaryPath); err != nil {
		fmt.Fprintln(c.stderr, err)
		return exitFail
	}

	if f.asJSON {
		fmt.Fprint(c.stdout, string(data))
	} else {
		fmt.Fprint(c.stdout, rep.RenderHuman())
	}

	if rep.Summary.Status == report.StatusPassed {
		return exitPass
	}
	return exitFail
}

func hasCommandUnits(m *manifest.Manifest) bool {
	for _, u := range m.Units {
		if u.Kind == manifest.KindCommand {
			return true
		}
	}
	return false
}

func (c *cli) printInventory(m *manifest.Manifest, asJSON bool) int {
	if asJSON {
		type commandDoc struct {
			Name             string   `json:"name"`
			Args             []string `json:"args,omitempty"`
			ExpectedExitCode int      `json:"expected_exit_code"`
		}
		type surfaceDoc struct {
			ID            string   `json:"id"`
			Script        string   `json:"script"`
			ArtifactRoots []string `json:"artifact_roots"`
		}
		doc := map[string]any{"schema_version": m.SchemaVersion}
		var commands []commandDoc
		var surfaces []surfaceDoc
		for _, u := range m.Units {
			switch u.Kind {
			case manifest.KindCommand:
				commands = append(commands, commandDoc{Name: u.Name, Args: u.Args, ExpectedExitCode: u.ExpectedExitCode})
			case manifest.KindSurface:
				surfaces = append(surfaces, surfaceDoc{ID: u.Name, Script: u.Script, ArtifactRoots: u.ArtifactRoots})
			}
		}
		if commands != nil {
			doc["units"] = commands
		}
		if surfaces != nil {
			doc["surfaces"] = surfaces
		}
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			fmt.Fprintln(c.stderr, err)
			return exitFail
		}
		fmt.Fprintln(c.stdout, string(b))
		return exitPass
	}

	for _, u := range m.Units {
		fmt.Fprintln(c.stdout, u.Name)
		switch u.Kind {
		case manifest.KindCommand:
			fmt.Fprintf(c.stdout, "  args: %s\n", strings.Join(u.Args, " "))
		case manifest.KindSurface:
			fmt.Fprintf(c.stdout, "  script: %s\n", u.Script)
			for _, root := range u.ArtifactRoots {
				fmt.Fprintf(c.stdout, "  artifact_root: %s\n", root)
			}
		}
	}
	return exitPass
}
