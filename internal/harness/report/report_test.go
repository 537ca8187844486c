package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleUnits() []Unit {
	return []Unit{
		{
			Name:     "alpha",
			Kind:     "command",
			Command:  []string{"/bin/true"},
			Status:   StatusPassed,
			ExitCode: 0,
		},
		{
			Name:                "beta",
			Kind:                "command",
			Command:             []string{"/bin/false"},
			Status:              StatusFailed,
			ExitCode:            1,
			StdoutLog:           "units/02-beta/stdout.log",
			StderrLog:           "units/02-beta/stderr.log",
			ExpectationFailures: []string{"exit-code-mismatch expected=0 actual=1"},
		},
	}
}

func TestBuildComputesSummary(t *testing.T) {
	rep := Build("run-1", 1000, 250, sampleUnits())
	if rep.SchemaVersion != SchemaVersion {
		t.Fatalf("schema version = %d, want %d", rep.SchemaVersion, SchemaVersion)
	}
	want := Summary{Status: StatusFailed, Total: 2, Passed: 1, Failed: 1}
	if rep.Summary != want {
		t.Fatalf("summary = %+v, want %+v", rep.Summary, want)
	}
}

func TestBuildAllPassed(t *testing.T) {
	rep := Build("run-2", 0, 0, []Unit{{Name: "only", Status: StatusPassed}})
	if rep.Summary.Status != StatusPassed || rep.Summary.Failed != 0 {
		t.Fatalf("summary = %+v, want passed", rep.Summary)
	}
}

func TestBuildEmptyRunPasses(t *testing.T) {
	rep := Build("run-3", 0, 0, nil)
	if rep.Summary.Status != StatusPassed || rep.Summary.Total != 0 {
		t.Fatalf("summary = %+v, want passed/empty", rep.Summary)
	}
	if rep.Units == nil {
		t.Fatal("units slice should be non-nil")
	}
}

func TestEncodeJSONCarriesArraysNotNulls(t *testing.T) {
	rep := Build("run-4", 0, 0, []Unit{{Name: "bare", Status: StatusPassed}})
	data, err := rep.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		t.Fatal("document should end with newline")
	}
	if bytes.Contains(data, []byte("null")) {
		t.Fatalf("document contains null:\n%s", data)
	}

	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if decoded.Units[0].Name != "bare" {
		t.Fatalf("round trip lost unit name: %+v", decoded.Units)
	}
}

func TestEncodeJSONIsStable(t *testing.T) {
	rep := Build("run-5", 42, 7, sampleUnits())
	a, err := rep.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	b, err := rep.EncodeJSON()
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("repeated encodes differ")
	}
}

func TestRenderHuman(t *testing.T) {
	rep := Build("run-6", 0, 9, sampleUnits())
	out := rep.RenderHuman()
	for _, want := range []string{
		"run run-6: failed (total=2 passed=1 failed=1 duration_ms=9)",
		"PASS alpha exit=0",
		"FAIL beta exit=1",
		"expectation: exit-code-mismatch expected=0 actual=1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("human digest missing %q:\n%s", want, out)
		}
	}
}

func TestAppendMarkdownSummary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "summary.md")
	if err := os.WriteFile(path, []byte("existing\n"), 0o644); err != nil {
		t.Fatalf("seed summary: %v", err)
	}

	rep := Build("run-7", 0, 0, sampleUnits())
	if err := rep.AppendMarkdownSummary(path); err != nil {
		t.Fatalf("AppendMarkdownSummary: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	out := string(b)
	if !strings.HasPrefix(out, "existing\n") {
		t.Fatal("append clobbered existing content")
	}
	for _, want := range []string{
		"### Validation Run",
		"- Status: failed",
		"- Failed unit: beta",
		"- Failed stderr log: units/02-beta/stderr.log",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestAppendMarkdownSummaryEmptyPathIsNoop(t *testing.T) {
	rep := Build("run-8", 0, 0, nil)
	if err := rep.AppendMarkdownSummary("  "); err != nil {
		t.Fatalf("AppendMarkdownSummary: %v", err)
	}
}

func TestWriteFileCreatesParents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "report.json")
	if err := WriteFile(path, []byte("{}\n")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "{}\n" {
		t.Fatalf("content = %q", b)
	}
}
