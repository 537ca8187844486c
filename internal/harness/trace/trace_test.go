package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var doc map[string]any
		if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		events = append(events, doc)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan trace: %v", err)
	}
	return events
}

func TestAppendWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	s := NewSink(path)

	s.Append("run_started", map[string]any{"run_id": "r1", "units": 2})
	s.Append("run_finished", map[string]any{"run_id": "r1", "status": "passed"})

	events := readEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0]["event"] != "run_started" || events[0]["run_id"] != "r1" {
		t.Fatalf("first event = %v", events[0])
	}
	if events[1]["event"] != "run_finished" {
		t.Fatalf("second event = %v", events[1])
	}
	if _, ok := events[0]["ts"].(string); !ok {
		t.Fatalf("missing timestamp: %v", events[0])
	}
}

func TestAppendFansOutToEveryPath(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.ndjson")
	b := filepath.Join(dir, "nested", "b.ndjson")
	s := NewSink(a, "", b)

	s.Append("unit_finished", map[string]any{"unit": "demo"})

	for _, path := range []string{a, b} {
		events := readEvents(t, path)
		if len(events) != 1 || events[0]["unit"] != "demo" {
			t.Fatalf("%s events = %v", path, events)
		}
	}
}

func TestEmptyAndNilSinksDiscard(t *testing.T) {
	NewSink("", "  ").Append("noop", nil)
	var s *Sink
	s.Append("noop", nil)
}

func TestSinkFailureIsSilent(t *testing.T) {
	// Unwritable path: the event is dropped, nothing panics or errors.
	s := NewSink(filepath.Join(string(os.PathSeparator), "dev", "null", "impossible", "trace.ndjson"))
	s.Append("dropped", map[string]any{"k": "v"})
}
