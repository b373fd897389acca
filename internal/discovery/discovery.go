// Package discovery lists the data files an instrument produced inside a
// session's time window. A fast path shells out to find(1) with server-side
// mtime bounds; a pure in-process walk is used when the tool is unavailable
// or fails. Both paths feed the same filter, so their output is identical.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
)

// FileRef identifies one discovered data file.
type FileRef struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Finder discovers files under instrument data roots. Ignore patterns are
// globs matched against the path relative to the search root.
type Finder struct {
	ignore      []glob.Glob
	findBinary  string
	disableTool bool
}

type Option func(*Finder)

// WithoutTool forces the pure in-process walk, bypassing find(1).
func WithoutTool() Option {
	return func(f *Finder) { f.disableTool = true }
}

func NewFinder(ignorePatterns []string, opts ...Option) (*Finder, error) {
	finder := &Finder{findBinary: "find"}
	for _, pattern := range ignorePatterns {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile ignore pattern %q: %w", pattern, err)
		}
		finder.ignore = append(finder.ignore, compiled)
	}
	for _, opt := range opts {
		opt(finder)
	}
	return finder, nil
}

// FindFiles returns the files under root whose modification time lies in
// [from, to], sorted ascending by modification time with path as tiebreak.
func (f *Finder) FindFiles(ctx context.Context, root string, from, to time.Time) ([]FileRef, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid window: %s is before %s", to, from)
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("stat search root: %w", err)
	}

	if !f.disableTool {
		if _, err := exec.LookPath(f.findBinary); err == nil {
			candidates, err := f.findWithTool(ctx, root, from, to)
			if err == nil {
				return f.filter(root, candidates, from, to)
			}
			// The walk produces the same answer, just slower.
		}
	}

	candidates, err := f.walk(ctx, root)
	if err != nil {
		return nil, err
	}
	return f.filter(root, candidates, from, to)
}

// findWithTool lists candidate paths via find(1). The mtime bounds passed to
// the tool are widened by a second on each side because -newermt compares
// strictly and some filesystems truncate timestamps; the exact closed-window
// check happens in filter against the stat result.
func (f *Finder) findWithTool(ctx context.Context, root string, from, to time.Time) ([]string, error) {
	const boundFormat = "2006-01-02 15:04:05"
	lower := from.Add(-time.Second).UTC().Format(boundFormat)
	upper := to.Add(time.Second).UTC().Format(boundFormat)

	cmd := exec.CommandContext(ctx, f.findBinary, root,
		"-type", "f",
		"-newermt", lower,
		"!", "-newermt", upper,
		"-print0",
	)
	cmd.Env = append(os.Environ(), "TZ=UTC")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("find exited %d: %s", exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("run find: %w", err)
	}

	var paths []string
	for _, raw := range bytes.Split(stdout.Bytes(), []byte{0}) {
		if len(raw) == 0 {
			continue
		}
		paths = append(paths, string(raw))
	}
	return paths, nil
}

// walk lists every regular file under root in-process.
func (f *Finder) walk(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, nil
}

// filter applies the closed time window and ignore patterns, then sorts.
// Both discovery paths funnel through here, which is what guarantees they
// agree on output for the same inputs.
func (f *Finder) filter(root string, paths []string, from, to time.Time) ([]FileRef, error) {
	files := make([]FileRef, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue // deleted between listing and stat
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		modTime := info.ModTime()
		if modTime.Before(from) || modTime.After(to) {
			continue
		}
		if f.ignored(root, path) {
			continue
		}
		files = append(files, FileRef{Path: path, Size: info.Size(), ModTime: modTime})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

func (f *Finder) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range f.ignore {
		if pattern.Match(rel) {
			return true
		}
	}
	return false
}
