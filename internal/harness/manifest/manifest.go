// Package manifest loads and validates the declarative unit manifest that
// drives a validation run. Loading is total: either a fully validated
// Manifest is returned, or a *Error and no partial state.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// SchemaVersion is the single manifest schema version this build understands.
const SchemaVersion = 1

type Kind string

const (
	KindCommand Kind = "command"
	KindSurface Kind = "surface"
)

// UnitSpec is one declared unit, resolved at load time into a tagged variant:
// command units carry Args and expectation fields, surface units carry
// Script and ArtifactRoots. Immutable once loaded.
type UnitSpec struct {
	Kind Kind
	Name string

	// Command form.
	Args             []string
	ExpectedExitCode int
	StdoutContains   string
	StderrContains   string

	// Surface form.
	Script        string
	ArtifactRoots []string
}

type Manifest struct {
	SchemaVersion int
	Units         []UnitSpec
}

// Error reports malformed or invalid manifest input. It is always produced
// before any execution side effect.
type Error struct {
	Path   string
	Detail string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "manifest: " + e.Detail
	}
	return fmt.Sprintf("manifest %s: %s", e.Path, e.Detail)
}

func loadErr(path, format string, args ...any) error {
	return &Error{Path: path, Detail: fmt.Sprintf(format, args...)}
}

type rawCommand struct {
	Name             string   `json:"name"`
	Args             []string `json:"args"`
	ExpectedExitCode *int     `json:"expected_exit_code"`
	StdoutContains   *string  `json:"stdout_contains"`
	StderrContains   *string  `json:"stderr_contains"`
}

type rawSurface struct {
	ID            string   `json:"id"`
	Script        string   `json:"script"`
	ArtifactRoots []string `json:"artifact_roots"`
}

type rawManifest struct {
	SchemaVersion *int         `json:"schema_version"`
	Units         []rawCommand `json:"units"`
	Surfaces      []rawSurface `json:"surfaces"`
}

// Load reads and validates the manifest at path. Any violation returns a
// *Error; the file is the only thing touched.
func Load(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErr(path, "read: %v", err)
	}

	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, loadErr(path, "not valid JSON: %v", err)
	}
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, loadErr(path, "schema violation: %v", err)
	}

	var raw rawManifest
	if err := decodeStrict(b, &raw); err != nil {
		return nil, loadErr(path, "decode: %v", err)
	}
	return build(path, &raw)
}

func decodeStrict(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func build(path string, raw *rawManifest) (*Manifest, error) {
	if raw.SchemaVersion == nil {
		return nil, loadErr(path, "schema_version is required")
	}
	if *raw.SchemaVersion != SchemaVersion {
		return nil, loadErr(path, "unsupported schema_version: expected %d, found %d", SchemaVersion, *raw.SchemaVersion)
	}
	if len(raw.Units) > 0 && len(raw.Surfaces) > 0 {
		return nil, loadErr(path, "manifest must declare either units or surfaces, not both")
	}

	m := &Manifest{SchemaVersion: *raw.SchemaVersion}
	seen := map[string]struct{}{}

	addName := func(label, name string) (string, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", loadErr(path, "%s must be a non-empty string", label)
		}
		if _, dup := seen[name]; dup {
			return "", loadErr(path, "duplicate unit name %q", name)
		}
		seen[name] = struct{}{}
		return name, nil
	}

	switch {
	case len(raw.Units) > 0:
		for i, u := range raw.Units {
			name, err := addName(fmt.Sprintf("units[%d].name", i), u.Name)
			if err != nil {
				return nil, err
			}
			if len(u.Args) == 0 {
				return nil, loadErr(path, "units[%d].args must be a non-empty array", i)
			}
			args := make([]string, len(u.Args))
			for j, a := range u.Args {
				if strings.TrimSpace(a) == "" {
					return nil, loadErr(path, "units[%d].args[%d] must be a non-empty string", i, j)
				}
				args[j] = a
			}
			expected := 0
			if u.ExpectedExitCode != nil {
				if *u.ExpectedExitCode < 0 {
					return nil, loadErr(path, "units[%d].expected_exit_code must be a non-negative integer", i)
				}
				expected = *u.ExpectedExitCode
			}
			stdoutContains, err := optionalSubstring(path, i, "stdout_contains", u.StdoutContains)
			if err != nil {
				return nil, err
			}
			stderrContains, err := optionalSubstring(path, i, "stderr_contains", u.StderrContains)
			if err != nil {
				return nil, err
			}
			m.Units = append(m.Units, UnitSpec{
				Kind:             KindCommand,
				Name:             name,
				Args:             args,
				ExpectedExitCode: expected,
				StdoutContains:   stdoutContains,
				StderrContains:   stderrContains,
			})
		}
	case len(raw.Surfaces) > 0:
		for i, s := range raw.Surfaces {
			name, err := addName(fmt.Sprintf("surfaces[%d].id", i), s.ID)
			if err != nil {
				return nil, err
			}
			script := strings.TrimSpace(s.Script)
			if script == "" {
				return nil, loadErr(path, "surfaces[%d].script must be a non-empty string", i)
			}
			if len(s.ArtifactRoots) == 0 {
				return nil, loadErr(path, "surfaces[%d].artifact_roots must be a non-empty array", i)
			}
			roots := make([]string, len(s.ArtifactRoots))
			for j, r := range s.ArtifactRoots {
				r = strings.TrimSpace(r)
				if r == "" {
					return nil, loadErr(path, "surfaces[%d].artifact_roots[%d] must be a non-empty string", i, j)
				}
				roots[j] = r
			}
			m.Units = append(m.Units, UnitSpec{
				Kind:          KindSurface,
				Name:          name,
				Script:        script,
				ArtifactRoots: roots,
			})
		}
	default:
		return nil, loadErr(path, "manifest must declare a non-empty units or surfaces array")
	}

	return m, nil
}

func optionalSubstring(path string, index int, field string, v *string) (string, error) {
	if v == nil {
		return "", nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return "", loadErr(path, "units[%d].%s must be a non-empty string when set", index, field)
	}
	return s, nil
}

// Names returns unit names in declaration order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Units))
	for i, u := range m.Units {
		names[i] = u.Name
	}
	return names
}

// Lookup returns the unit with the given name.
func (m *Manifest) Lookup(name string) (UnitSpec, bool) {
	for _, u := range m.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitSpec{}, false
}
