package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestCLI() (*cli, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &cli{stdout: &stdout, stderr: &stderr}, &stdout, &stderr
}

func writeFile(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const echoBinary = `#!/bin/sh
echo "marker-out"
exit "${1:-0}"
`

func TestDispatchWithoutArgsIsUsageError(t *testing.T) {
	c, _, stderr := newTestCLI()
	if code := c.dispatch(nil); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "usage:") {
		t.Fatalf("stderr = %q, want usage text", stderr.String())
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	c, _, stderr := newTestCLI()
	if code := c.dispatch([]string{"frobnicate"}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "unknown command: frobnicate") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["x"]}]}`, 0o644)
	bad := writeFile(t, dir, "bad.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["x"]},{"name":"u1","args":["y"]}]}`, 0o644)

	c, stdout, _ := newTestCLI()
	if code := c.dispatch([]string{"validate", "--manifest", good}); code != exitPass {
		t.Fatalf("exit = %d, want %d", code, exitPass)
	}
	if !strings.Contains(stdout.String(), "ok: ") || !strings.Contains(stdout.String(), "units=1") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	c, _, stderr := newTestCLI()
	if code := c.dispatch([]string{"validate", "--manifest", bad}); code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "duplicate unit name") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunPassingManifest(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"],"stdout_contains":"marker-out"}]}`, 0o644)

	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
	})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d\nstdout:\n%s", code, exitPass, stdout.String())
	}
	if !strings.Contains(stdout.String(), "PASS u1") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "run", "report.json")); err != nil {
		t.Fatalf("report.json not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run", "progress.ndjson")); err != nil {
		t.Fatalf("progress.ndjson not written: %v", err)
	}
}

func TestRunFailingUnitExitsOne(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["9"]}]}`, 0o644)

	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
	})
	if code != exitFail {
		t.Fatalf("exit = %d, want %d", code, exitFail)
	}
	if !strings.Contains(stdout.String(), "FAIL u1") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunJSONStdoutMatchesReportFile(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"]}]}`, 0o644)
	reportFile := filepath.Join(dir, "copy", "report.json")

	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
		"--report-file", reportFile,
		"--json",
	})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d", code, exitPass)
	}
	fromFile, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatalf("read report file: %v", err)
	}
	if !bytes.Equal(stdout.Bytes(), fromFile) {
		t.Fatal("stdout JSON differs from --report-file bytes")
	}
	var doc map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("stdout is not valid JSON: %v", err)
	}
	if doc["schema_version"].(float64) != 1 {
		t.Fatalf("schema_version = %v", doc["schema_version"])
	}
}

func TestRunUnknownOnlyNameIsUsageError(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"]}]}`, 0o644)

	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
		"--only", "nope",
	})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), `unknown unit "nope"`) {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunMissingBinaryIsUsageError(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"]}]}`, 0o644)

	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
	})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "--binary is required") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunParallelDefaultsToKeepGoing(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"]},{"name":"u2","args":["0"]}]}`, 0o644)

	c, stdout, stderr := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
		"--workers", "2",
	})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d\nstderr:\n%s", code, exitPass, stderr.String())
	}
	if !strings.Contains(stdout.String(), "passed (total=2 passed=2") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunExplicitFailFastWithWorkersRejected(t *testing.T) {
	dir := t.TempDir()
	binary := writeFile(t, dir, "unit.sh", echoBinary, 0o755)
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"units":[{"name":"u1","args":["0"]}]}`, 0o644)

	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"run",
		"--manifest", manifestPath,
		"--binary", binary,
		"--repo-root", dir,
		"--output-dir", filepath.Join(dir, "run"),
		"--workers", "2",
		"--fail-fast",
	})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "fail-fast is not supported with parallel workers") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunConflictingFlagsRejected(t *testing.T) {
	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"run", "--manifest", "m.json", "--fail-fast", "--keep-going"})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "mutually exclusive") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunList(t *testing.T) {
	dir := t.TempDir()
	manifestPath := writeFile(t, dir, "manifest.json",
		`{"schema_version":1,"surfaces":[{"id":"demo","script":"run.sh","artifact_roots":["out"]}]}`, 0o644)

	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"run", "--manifest", manifestPath, "--list"})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d", code, exitPass)
	}
	out := stdout.String()
	if !strings.Contains(out, "demo") || !strings.Contains(out, "script: run.sh") {
		t.Fatalf("stdout = %q", out)
	}
}

func TestRetryResolvedAfterRetry(t *testing.T) {
	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"retry", "--outcomes", "failure,success", "--json"})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d", code, exitPass)
	}
	var doc map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &doc); err != nil {
		t.Fatalf("stdout is not valid JSON: %v", err)
	}
	if doc["mode"] != "resolved_after_retry" || doc["status"] != "success" {
		t.Fatalf("doc = %v", doc)
	}
	if doc["success_attempt"].(float64) != 2 {
		t.Fatalf("success_attempt = %v", doc["success_attempt"])
	}
}

func TestRetryExhaustedExitsOne(t *testing.T) {
	c, stdout, _ := newTestCLI()
	code := c.dispatch([]string{"retry", "--outcomes", "failure,failure,failure"})
	if code != exitFail {
		t.Fatalf("exit = %d, want %d", code, exitFail)
	}
	if !strings.Contains(stdout.String(), "Mode: checkout_retries_exhausted") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRetryBudgetOverrunIsUsageError(t *testing.T) {
	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"retry",
		"--outcomes", "failure,success",
		"--max-attempts", "6",
		"--max-total-delay-seconds", "10",
	})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), "exceeds budget") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRetryDryRunAlwaysPasses(t *testing.T) {
	dir := t.TempDir()
	summary := filepath.Join(dir, "summary.md")
	output := filepath.Join(dir, "output.txt")

	c, _, _ := newTestCLI()
	code := c.dispatch([]string{"retry", "--dry-run", "--summary", summary, "--output", output})
	if code != exitPass {
		t.Fatalf("exit = %d, want %d", code, exitPass)
	}
	b, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(b), "checkout_retry_status=failure") {
		t.Fatalf("output = %q", b)
	}
	if _, err := os.Stat(summary); err != nil {
		t.Fatalf("summary not written: %v", err)
	}
}

func TestRetryRejectsUnknownOutcome(t *testing.T) {
	c, _, stderr := newTestCLI()
	code := c.dispatch([]string{"retry", "--outcomes", "failure,sideways"})
	if code != exitUsage {
		t.Fatalf("exit = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(stderr.String(), `unsupported outcome "sideways"`) {
		t.Fatalf("stderr = %q", stderr.String())
	}
}
