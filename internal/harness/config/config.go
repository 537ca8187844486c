// Package config loads the optional harness configuration file. Both YAML
// and JSON are accepted; decoding is strict so typos fail loudly instead of
// being ignored.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Version of the config file format this build understands.
const Version = 1

type RunSection struct {
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Workers        int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	KeepGoing      bool   `json:"keep_going,omitempty" yaml:"keep_going,omitempty"`
	OutputDir      string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
}

type ArtifactPolicySection struct {
	ExcludeGlobs []string `json:"exclude_globs,omitempty" yaml:"exclude_globs,omitempty"`
}

type TraceSection struct {
	File string `json:"file,omitempty" yaml:"file,omitempty"`
}

type File struct {
	Version        int                   `json:"version" yaml:"version"`
	Run            RunSection            `json:"run,omitempty" yaml:"run,omitempty"`
	ArtifactPolicy ArtifactPolicySection `json:"artifact_policy,omitempty" yaml:"artifact_policy,omitempty"`
	Trace          TraceSection          `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *File {
	cfg := &File{Version: Version}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (JSON for .json, YAML otherwise), applies defaults, and
// validates the result.
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *File) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyDefaults(cfg *File) {
	if cfg.Version == 0 {
		cfg.Version = Version
	}
	if cfg.Run.Workers == 0 {
		cfg.Run.Workers = 1
	}
	if cfg.Run.OutputDir == "" {
		cfg.Run.OutputDir = ".gauntlet/run"
	}
	cfg.ArtifactPolicy.ExcludeGlobs = trimNonEmpty(cfg.ArtifactPolicy.ExcludeGlobs)
	if len(cfg.ArtifactPolicy.ExcludeGlobs) == 0 {
		cfg.ArtifactPolicy.ExcludeGlobs = []string{"**/.git/**"}
	}
}

func validate(cfg *File) error {
	if cfg.Version != Version {
		return fmt.Errorf("unsupported config version: expected %d, found %d", Version, cfg.Version)
	}
	if cfg.Run.TimeoutSeconds < 0 {
		return fmt.Errorf("run.timeout_seconds must be >= 0 (got %d)", cfg.Run.TimeoutSeconds)
	}
	if cfg.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be >= 1 (got %d)", cfg.Run.Workers)
	}
	return nil
}

func trimNonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
