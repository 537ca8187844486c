// Package artifact captures the files a unit is expected to produce: declared
// roots are copied into the unit's run-scoped directory and every copied
// regular file is content-digested so the report is independently verifiable.
package artifact

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// Artifact describes one captured regular file.
type Artifact struct {
	RelativePath string `json:"relative_path"`
	Bytes        int64  `json:"bytes"`
	Digest       string `json:"digest"`
}

// Collection is the outcome of capturing one unit's artifact roots.
type Collection struct {
	Artifacts    []Artifact
	MissingRoots []string
}

// Collect copies each declared root (file or directory tree) from repoRoot
// into unitDir/artifacts, then walks the destination and digests every
// regular file. Absent roots are recorded, not fatal. Files whose relative
// path matches an exclude glob are skipped during the digest walk.
func Collect(repoRoot, unitDir string, roots, excludeGlobs []string) (*Collection, error) {
	artifactsDir := filepath.Join(unitDir, "artifacts")
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		return nil, err
	}

	col := &Collection{}
	for _, root := range roots {
		source := ResolvePath(repoRoot, root)
		info, err := os.Stat(source)
		if err != nil {
			if os.IsNotExist(err) {
				col.MissingRoots = append(col.MissingRoots, root)
				continue
			}
			return nil, fmt.Errorf("stat artifact root %s: %w", source, err)
		}

		dest := filepath.Join(artifactsDir, filepath.FromSlash(CleanRelativeLabel(root)))
		if info.Mode().IsRegular() {
			if err := copyFile(source, dest); err != nil {
				return nil, err
			}
			continue
		}
		if info.IsDir() {
			if err := os.RemoveAll(dest); err != nil {
				return nil, err
			}
			if err := copyTree(source, dest); err != nil {
				return nil, err
			}
			continue
		}
		// Sockets, devices, and other irregular roots are treated as missing.
		col.MissingRoots = append(col.MissingRoots, root)
	}

	artifacts, err := digestTree(unitDir, artifactsDir, excludeGlobs)
	if err != nil {
		return nil, err
	}
	col.Artifacts = artifacts
	return col, nil
}

// ResolvePath resolves raw against root unless it is already absolute.
func ResolvePath(root, raw string) string {
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(root, raw)
}

// CleanRelativeLabel normalizes a declared root into a destination label:
// backslashes become slashes, leading "./" and surrounding slashes are
// stripped, and an empty result maps to "root".
func CleanRelativeLabel(raw string) string {
	label := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	label = strings.TrimPrefix(label, "./")
	label = strings.Trim(label, "/")
	if label == "" {
		return "root"
	}
	return label
}

func copyFile(source, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyTree(source, dest string) error {
	return filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func digestTree(unitDir, artifactsDir string, excludeGlobs []string) ([]Artifact, error) {
	var artifacts []Artifact
	err := filepath.WalkDir(artifactsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(unitDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, excludeGlobs) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		digest, err := FileDigest(path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, Artifact{
			RelativePath: rel,
			Bytes:        info.Size(),
			Digest:       digest,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].RelativePath < artifacts[j].RelativePath
	})
	return artifacts, nil
}

func excluded(rel string, globs []string) bool {
	for _, glob := range globs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// FileDigest streams the file through blake3 and returns the hex digest.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
