// Package report assembles the structured run report. One internal model
// backs both the machine-readable JSON document and the human digest so the
// two can never drift.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gauntlet/internal/harness/artifact"
)

// SchemaVersion of the emitted report document.
const SchemaVersion = 1

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Unit is the recorded outcome of one executed unit. Values are written once
// by the orchestrator and never mutated afterwards.
type Unit struct {
	Name                 string              `json:"name"`
	Kind                 string              `json:"kind"`
	Script               string              `json:"script,omitempty"`
	Command              []string            `json:"command"`
	Status               string              `json:"status"`
	ExitCode             int                 `json:"exit_code"`
	DurationMS           int64               `json:"duration_ms"`
	StdoutLog            string              `json:"stdout_log"`
	StderrLog            string              `json:"stderr_log"`
	ExpectationFailures  []string            `json:"expectation_failures"`
	Artifacts            []artifact.Artifact `json:"artifacts"`
	MissingArtifactRoots []string            `json:"missing_artifact_roots"`
	SummaryLine          string              `json:"summary_line,omitempty"`
	Diagnostics          []string            `json:"diagnostics"`
}

type Summary struct {
	Status string `json:"status"`
	Total  int    `json:"total"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
}

type Report struct {
	SchemaVersion int     `json:"schema_version"`
	RunID         string  `json:"run_id"`
	StartedUnixMS int64   `json:"started_unix_ms"`
	DurationMS    int64   `json:"duration_ms"`
	Summary       Summary `json:"summary"`
	Units         []Unit  `json:"units"`
}

// Build computes summary counts from the ordered unit results. Nil slices are
// normalized so the JSON document always carries arrays.
func Build(runID string, startedUnixMS, durationMS int64, units []Unit) *Report {
	passed := 0
	normalized := make([]Unit, len(units))
	for i, u := range units {
		if u.ExpectationFailures == nil {
			u.ExpectationFailures = []string{}
		}
		if u.Artifacts == nil {
			u.Artifacts = []artifact.Artifact{}
		}
		if u.MissingArtifactRoots == nil {
			u.MissingArtifactRoots = []string{}
		}
		if u.Diagnostics == nil {
			u.Diagnostics = []string{}
		}
		if u.Command == nil {
			u.Command = []string{}
		}
		normalized[i] = u
		if u.Status == StatusPassed {
			passed++
		}
	}

	status := StatusPassed
	if len(units)-passed > 0 {
		status = StatusFailed
	}
	return &Report{
		SchemaVersion: SchemaVersion,
		RunID:         runID,
		StartedUnixMS: startedUnixMS,
		DurationMS:    durationMS,
		Summary: Summary{
			Status: status,
			Total:  len(units),
			Passed: passed,
			Failed: len(units) - passed,
		},
		Units: normalized,
	}
}

// EncodeJSON renders the canonical machine document. Callers that echo to
// stdout and write report files must reuse the same bytes.
func (r *Report) EncodeJSON() ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// RenderHuman renders the terminal digest from the same model as the JSON.
func (r *Report) RenderHuman() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s (total=%d passed=%d failed=%d duration_ms=%d)\n",
		r.RunID, r.Summary.Status, r.Summary.Total, r.Summary.Passed, r.Summary.Failed, r.DurationMS)
	for _, u := range r.Units {
		marker := "PASS"
		if u.Status != StatusPassed {
			marker = "FAIL"
		}
		fmt.Fprintf(&b, "  %s %s exit=%d duration_ms=%d artifacts=%d\n",
			marker, u.Name, u.ExitCode, u.DurationMS, len(u.Artifacts))
		for _, f := range u.ExpectationFailures {
			fmt.Fprintf(&b, "    expectation: %s\n", f)
		}
		for _, d := range u.Diagnostics {
			fmt.Fprintf(&b, "    diagnostic: %s\n", d)
		}
		if u.SummaryLine != "" {
			fmt.Fprintf(&b, "    summary-line: %s\n", u.SummaryLine)
		}
	}
	return b.String()
}

// AppendMarkdownSummary appends a CI step summary block to path. Empty path
// is a no-op.
func (r *Report) AppendMarkdownSummary(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	lines := []string{
		"### Validation Run",
		fmt.Sprintf("- Status: %s", r.Summary.Status),
		fmt.Sprintf("- Run ID: %s", r.RunID),
		fmt.Sprintf("- Units: %d", r.Summary.Total),
		fmt.Sprintf("- Passed: %d", r.Summary.Passed),
		fmt.Sprintf("- Failed: %d", r.Summary.Failed),
	}
	if first := r.firstFailed(); first != nil {
		lines = append(lines,
			fmt.Sprintf("- Failed unit: %s", first.Name),
			fmt.Sprintf("- Failed stdout log: %s", first.StdoutLog),
			fmt.Sprintf("- Failed stderr log: %s", first.StderrLog),
		)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	return err
}

func (r *Report) firstFailed() *Unit {
	for i := range r.Units {
		if r.Units[i].Status != StatusPassed {
			return &r.Units[i]
		}
	}
	return nil
}
