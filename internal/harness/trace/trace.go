// Package trace appends NDJSON diagnostic events for a run. Events are
// advisory: sink failures are swallowed so diagnostics can never change a
// run's pass/fail outcome.
package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Sink struct {
	mu    sync.Mutex
	paths []string
}

// NewSink returns a sink appending to each non-empty path. A sink with no
// paths (or a nil sink) discards events.
func NewSink(paths ...string) *Sink {
	s := &Sink{}
	for _, p := range paths {
		if strings.TrimSpace(p) != "" {
			s.paths = append(s.paths, p)
		}
	}
	return s
}

// Append writes one event object with a timestamp to every sink path.
func (s *Sink) Append(event string, fields map[string]any) {
	if s == nil || len(s.paths) == 0 {
		return
	}
	doc := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		doc[k] = v
	}
	doc["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	doc["event"] = event

	line, err := json.Marshal(doc)
	if err != nil {
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range s.paths {
		appendLine(path, line)
	}
}

func appendLine(path string, line []byte) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()
	_, _ = f.Write(line)
}
