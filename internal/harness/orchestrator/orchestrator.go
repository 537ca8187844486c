// Package orchestrator sequences manifest units through the process runner,
// applies fail-fast or continue-on-failure policy, and aggregates per-unit
// results into a run report. Default execution is strictly sequential; an
// optional worker pool handles independent units without letting completion
// order leak into the report.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"gauntlet/internal/harness/artifact"
	"gauntlet/internal/harness/manifest"
	"gauntlet/internal/harness/procrun"
	"gauntlet/internal/harness/report"
	"gauntlet/internal/harness/trace"
)

// SelectionError reports an --only name that matches no manifest unit. It is
// fatal before any unit runs and before any output path is created.
type SelectionError struct {
	Name  string
	Known []string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("unknown unit %q; manifest declares: %s", e.Name, strings.Join(e.Known, ", "))
}

// Options configure one orchestrator invocation. Ambient inputs (trace file
// from the environment) are resolved by the caller and threaded through here;
// core logic never reads the environment.
type Options struct {
	Manifest  *manifest.Manifest
	RepoRoot  string
	Binary    string
	OutputDir string

	// Only restricts execution to the named units, keeping manifest order.
	Only []string

	// FailFast halts after the first failed unit. Incompatible with
	// Workers > 1.
	FailFast bool

	// Timeout bounds each unit's process; zero means unbounded.
	Timeout time.Duration

	// Workers sizes the parallel pool; 1 (or 0) means sequential.
	Workers int

	// ExcludeGlobs are doublestar patterns skipped during artifact capture.
	ExcludeGlobs []string

	RunID     string
	TraceFile string

	// Progress receives human-readable progress lines; nil discards them.
	Progress io.Writer
}

type Orchestrator struct {
	opts  Options
	sink  *trace.Sink
	runID string
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Manifest == nil || len(opts.Manifest.Units) == 0 {
		return nil, fmt.Errorf("manifest with at least one unit is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 1 (got %d)", opts.Workers)
	}
	if opts.Workers == 0 {
		opts.Workers = 1
	}
	if opts.Workers > 1 && opts.FailFast {
		return nil, fmt.Errorf("fail-fast is not supported with parallel workers")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", opts.Timeout)
	}
	if needsBinary(opts.Manifest) && strings.TrimSpace(opts.Binary) == "" {
		return nil, fmt.Errorf("binary is required for command manifests")
	}

	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = ulid.Make().String()
	}
	return &Orchestrator{opts: opts, runID: runID}, nil
}

func needsBinary(m *manifest.Manifest) bool {
	for _, u := range m.Units {
		if u.Kind == manifest.KindCommand {
			return true
		}
	}
	return false
}

// RunID returns the identifier stamped on this invocation's report and trace.
func (o *Orchestrator) RunID() string { return o.runID }

type indexedUnit struct {
	index int
	spec  manifest.UnitSpec
}

// Run executes the selected units and returns the aggregated report. The
// output directory is cleared and recreated only after selection succeeds, so
// a SelectionError leaves the filesystem untouched.
func (o *Orchestrator) Run(ctx context.Context) (*report.Report, error) {
	m := newMachine()
	if err := m.advance(PhaseSelecting); err != nil {
		return nil, err
	}
	selected, err := o.selectUnits()
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(o.opts.OutputDir); err != nil {
		return nil, fmt.Errorf("clear output dir: %w", err)
	}
	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	o.sink = trace.NewSink(filepath.Join(o.opts.OutputDir, "progress.ndjson"), o.opts.TraceFile)
	o.sink.Append("run_started", map[string]any{
		"run_id":  o.runID,
		"units":   len(selected),
		"workers": o.opts.Workers,
	})

	startedUnix := time.Now().UnixMilli()
	startedMono := time.Now()

	var units []report.Unit
	var finalPhase Phase
	if o.opts.Workers > 1 {
		units, err = o.runParallel(ctx, m, selected)
		finalPhase = PhaseCompleted
	} else {
		units, finalPhase, err = o.runSequential(ctx, m, selected)
	}
	if err != nil {
		return nil, err
	}

	rep := report.Build(o.runID, startedUnix, time.Since(startedMono).Milliseconds(), units)
	o.sink.Append("run_finished", map[string]any{
		"run_id": o.runID,
		"status": rep.Summary.Status,
		"total":  rep.Summary.Total,
		"passed": rep.Summary.Passed,
		"failed": rep.Summary.Failed,
		"phase":  string(finalPhase),
	})
	return rep, nil
}

func (o *Orchestrator) selectUnits() ([]indexedUnit, error) {
	all := o.opts.Manifest.Units
	if len(o.opts.Only) == 0 {
		selected := make([]indexedUnit, len(all))
		for i, spec := range all {
			selected[i] = indexedUnit{index: i, spec: spec}
		}
		return selected, nil
	}

	wanted := map[string]struct{}{}
	for _, name := range o.opts.Only {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := o.opts.Manifest.Lookup(name); !ok {
			return nil, &SelectionError{Name: name, Known: o.opts.Manifest.Names()}
		}
		wanted[name] = struct{}{}
	}

	var selected []indexedUnit
	for i, spec := range all {
		if _, ok := wanted[spec.Name]; ok {
			selected = append(selected, indexedUnit{index: i, spec: spec})
		}
	}
	return selected, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, m *machine, selected []indexedUnit) ([]report.Unit, Phase, error) {
	var units []report.Unit
	for pos, iu := range selected {
		if err := m.advance(PhaseExecuting); err != nil {
			return nil, "", err
		}
		o.progressf("[gauntlet] [%d/%d] %s", pos+1, len(selected), iu.spec.Name)
		unit := o.executeUnit(ctx, pos, iu)
		if err := m.advance(PhaseRecording); err != nil {
			return nil, "", err
		}
		units = append(units, unit)
		o.reportUnitProgress(unit)

		if unit.Status != report.StatusPassed && o.opts.FailFast {
			o.progressf("[gauntlet] stopping after first failure (use --keep-going to continue)")
			if err := m.advance(PhaseStoppedFast); err != nil {
				return nil, "", err
			}
			return units, PhaseStoppedFast, nil
		}
	}

	if err := m.advance(PhaseCompleted); err != nil {
		return nil, "", err
	}
	return units, PhaseCompleted, nil
}

func (o *Orchestrator) reportUnitProgress(unit report.Unit) {
	marker := "PASS"
	if unit.Status != report.StatusPassed {
		marker = "FAIL"
	}
	o.progressf("[gauntlet] %s %s exit=%d duration_ms=%d artifacts=%d",
		marker, unit.Name, unit.ExitCode, unit.DurationMS, len(unit.Artifacts))
	if len(unit.ExpectationFailures) > 0 {
		o.progressf("[gauntlet] expectation failures: %s", strings.Join(unit.ExpectationFailures, ", "))
	}
	if unit.SummaryLine != "" {
		o.progressf("[gauntlet] summary-line: %s", unit.SummaryLine)
	}
}

// executeUnit runs one unit to completion and records its immutable result.
func (o *Orchestrator) executeUnit(ctx context.Context, position int, iu indexedUnit) report.Unit {
	spec := iu.spec
	unitDirName := fmt.Sprintf("%02d-%s", position+1, sanitizeName(spec.Name))
	unitDir := filepath.Join(o.opts.OutputDir, "units", unitDirName)

	unit := report.Unit{
		Name: spec.Name,
		Kind: string(spec.Kind),
	}
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		unit.Status = report.StatusFailed
		unit.ExitCode = -1
		unit.Diagnostics = append(unit.Diagnostics, fmt.Sprintf("create unit dir: %v", err))
		return unit
	}

	argv, diag := o.unitCommand(spec)
	if diag != "" {
		unit.Status = report.StatusFailed
		unit.ExitCode = 127
		unit.Diagnostics = append(unit.Diagnostics, diag)
		return unit
	}
	unit.Command = argv
	if spec.Kind == manifest.KindSurface {
		unit.Script = spec.Script
	}
	o.sink.Append("unit_started", map[string]any{
		"run_id": o.runID,
		"unit":   spec.Name,
		"kind":   string(spec.Kind),
	})
	o.progressf("[gauntlet] command: %s", strings.Join(argv, " "))

	res, err := procrun.Run(ctx, procrun.Request{
		Executable: argv[0],
		Args:       argv[1:],
		Dir:        o.opts.RepoRoot,
		Timeout:    o.opts.Timeout,
	})
	if err != nil {
		unit.Status = report.StatusFailed
		unit.ExitCode = -1
		unit.Diagnostics = append(unit.Diagnostics, fmt.Sprintf("spawn failed: %v", err))
		o.sink.Append("unit_finished", map[string]any{
			"run_id": o.runID, "unit": spec.Name, "status": unit.Status,
		})
		return unit
	}

	unit.ExitCode = res.ExitCode
	unit.DurationMS = res.DurationMS
	unit.StdoutLog = o.writeLog(unitDir, "stdout.log", res.Stdout, &unit)
	unit.StderrLog = o.writeLog(unitDir, "stderr.log", res.Stderr, &unit)

	if res.TimedOut {
		unit.Diagnostics = append(unit.Diagnostics,
			fmt.Sprintf("TIMEOUT: process exceeded %ds budget", int(o.opts.Timeout/time.Second)))
	}

	switch spec.Kind {
	case manifest.KindCommand:
		o.evaluateCommand(spec, res, &unit)
	case manifest.KindSurface:
		o.evaluateSurface(spec, res, unitDir, &unit)
	}

	o.sink.Append("unit_finished", map[string]any{
		"run_id":      o.runID,
		"unit":        spec.Name,
		"status":      unit.Status,
		"exit_code":   unit.ExitCode,
		"duration_ms": unit.DurationMS,
	})
	return unit
}

func (o *Orchestrator) unitCommand(spec manifest.UnitSpec) ([]string, string) {
	switch spec.Kind {
	case manifest.KindCommand:
		return append([]string{o.opts.Binary}, spec.Args...), ""
	case manifest.KindSurface:
		script := artifact.ResolvePath(o.opts.RepoRoot, spec.Script)
		if _, err := os.Stat(script); err != nil {
			return nil, fmt.Sprintf("surface script does not exist: %s", script)
		}
		argv := []string{script, "--repo-root", o.opts.RepoRoot}
		if strings.TrimSpace(o.opts.Binary) != "" {
			argv = append(argv, "--binary", o.opts.Binary)
		}
		if o.opts.Timeout > 0 {
			argv = append(argv, "--timeout-seconds", strconv.Itoa(int(o.opts.Timeout/time.Second)))
		}
		return argv, ""
	default:
		return nil, fmt.Sprintf("unknown unit kind %q", spec.Kind)
	}
}

// evaluateCommand applies the unit's expectation contract: exit code match
// plus optional stdout/stderr substring checks. Any mismatch is a hard
// per-unit failure.
func (o *Orchestrator) evaluateCommand(spec manifest.UnitSpec, res procrun.Result, unit *report.Unit) {
	if res.ExitCode != spec.ExpectedExitCode {
		unit.ExpectationFailures = append(unit.ExpectationFailures,
			fmt.Sprintf("exit-code-mismatch expected=%d actual=%d", spec.ExpectedExitCode, res.ExitCode))
	}
	if spec.StdoutContains != "" && !strings.Contains(res.Stdout, spec.StdoutContains) {
		unit.ExpectationFailures = append(unit.ExpectationFailures,
			fmt.Sprintf("stdout-missing-substring %q", spec.StdoutContains))
	}
	if spec.StderrContains != "" && !strings.Contains(res.Stderr, spec.StderrContains) {
		unit.ExpectationFailures = append(unit.ExpectationFailures,
			fmt.Sprintf("stderr-missing-substring %q", spec.StderrContains))
	}

	if len(unit.ExpectationFailures) == 0 && !res.TimedOut {
		unit.Status = report.StatusPassed
	} else {
		unit.Status = report.StatusFailed
	}
}

// evaluateSurface treats exit 0 as success; missing artifact roots and
// zero-artifact successes are warning-level diagnostics, not failures.
func (o *Orchestrator) evaluateSurface(spec manifest.UnitSpec, res procrun.Result, unitDir string, unit *report.Unit) {
	col, err := artifact.Collect(o.opts.RepoRoot, unitDir, spec.ArtifactRoots, o.opts.ExcludeGlobs)
	if err != nil {
		unit.Diagnostics = append(unit.Diagnostics, fmt.Sprintf("artifact capture failed: %v", err))
	} else {
		unit.Artifacts = col.Artifacts
		unit.MissingArtifactRoots = col.MissingRoots
		if len(col.MissingRoots) > 0 {
			missing := append([]string(nil), col.MissingRoots...)
			sort.Strings(missing)
			unit.Diagnostics = append(unit.Diagnostics,
				"missing expected artifact roots: "+strings.Join(missing, ", "))
		}
		if res.ExitCode == 0 && len(col.Artifacts) == 0 {
			unit.Diagnostics = append(unit.Diagnostics, "surface run produced no copied artifacts")
		}
	}

	if res.ExitCode != 0 {
		unit.Diagnostics = append(unit.Diagnostics,
			fmt.Sprintf("surface script exited with code %d", res.ExitCode))
	}
	unit.SummaryLine = extractSummaryLine(res.Stdout)

	if res.ExitCode == 0 && !res.TimedOut {
		unit.Status = report.StatusPassed
	} else {
		unit.Status = report.StatusFailed
	}
}

// extractSummaryLine returns the last stdout line containing "summary:".
func extractSummaryLine(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], "summary:") {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

func (o *Orchestrator) writeLog(unitDir, name, body string, unit *report.Unit) string {
	path := filepath.Join(unitDir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		unit.Diagnostics = append(unit.Diagnostics, fmt.Sprintf("write %s: %v", name, err))
		return ""
	}
	rel, err := filepath.Rel(o.opts.OutputDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func sanitizeName(raw string) string {
	var b strings.Builder
	for _, ch := range raw {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			b.WriteRune(ch)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "unit"
	}
	return out
}

func (o *Orchestrator) progressf(format string, args ...any) {
	if o.opts.Progress == nil {
		return
	}
	fmt.Fprintf(o.opts.Progress, format+"\n", args...)
}
