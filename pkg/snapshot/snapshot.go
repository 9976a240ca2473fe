// Package snapshot implements the workspace mirror primitive used
// throughout actor to move whitelisted files between the sandbox and the
// committed workspace areas (rs_files/, test_cases/, log_files/) and into
// per-iteration backups.
//
// Sync never aborts the mirror for a single bad file: a file that cannot be
// read or copied is skipped and is not reported. The []error it returns
// carries only failures that stop the whole mirror (src missing or not a
// directory, dst not creatable). This mirrors the source orchestrator's
// swallow-and-continue behavior (see the Open Questions in DESIGN.md).
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ternarybob/actor/pkg/whitelist"
)

// DefaultMaxDepth is the maximum directory nesting depth walked under src,
// relative to src itself.
const DefaultMaxDepth = 5

// DefaultMaxFileSize is the maximum size, in bytes, of a file eligible to be
// copied. Files of exactly this size are skipped (strictly less-than).
const DefaultMaxFileSize = 1 << 20 // 1 MiB

// Options configures a Sync call. The zero value uses the package defaults.
type Options struct {
	MaxDepth    int
	MaxFileSize int64
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	return o
}

// Sync mirrors the subset of src matching whitelist into dst:
//  1. remove every whitelisted file from dst,
//  2. copy every whitelisted, depth/size-eligible file from src to dst,
//  3. remove directories left empty under dst.
//
// dst is created if it does not exist. src must already exist and be a
// directory. Sync never follows symlinks into src.
func Sync(src, dst string, wl whitelist.Table, opts Options) []error {
	opts = opts.withDefaults()

	info, err := os.Lstat(src)
	if err != nil || !info.IsDir() {
		return []error{fmt.Errorf("snapshot: src %q is not a directory: %w", src, err)}
	}

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return []error{fmt.Errorf("snapshot: create dst %q: %w", dst, err)}
	}

	var errs []error

	if err := prune(dst, wl); err != nil {
		errs = append(errs, err)
	}

	if err := copyWhitelisted(src, dst, wl, opts); err != nil {
		errs = append(errs, err)
	}

	pruneEmptyDirs(dst)

	return errs
}

// prune walks dst and removes every regular file whose basename matches wl.
// Non-matching files and all directories are left untouched at this stage
// (empty directories are swept up separately, after the copy phase).
func prune(dst string, wl whitelist.Table) error {
	return filepath.Walk(dst, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip the broken entry; the walk continues.
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if wl.Match(info.Name()) {
			_ = os.Remove(path)
		}
		return nil
	})
}

// copyWhitelisted walks src (bounded by opts.MaxDepth) and copies every
// whitelisted, size-eligible regular file into the equivalent path under
// dst, preserving the file's mode bits and mtime.
func copyWhitelisted(src, dst string, wl whitelist.Table, opts Options) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Swallow per-entry errors; the file is simply skipped.
			return nil
		}

		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}

		depth := depthOf(rel)

		if info.IsDir() {
			if depth > opts.MaxDepth {
				return filepath.SkipDir
			}
			return nil
		}

		if depth > opts.MaxDepth {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if !wl.Match(info.Name()) {
			return nil
		}
		if info.Size() >= opts.MaxFileSize {
			return nil
		}

		dstPath := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return nil
		}
		if err := copyFile(path, dstPath, info.Mode()); err != nil {
			return nil
		}
		_ = os.Chtimes(dstPath, info.ModTime(), info.ModTime())

		return nil
	})
}

// depthOf returns the number of path separators in a src-relative path,
// i.e. the nesting depth of that entry below src.
func depthOf(rel string) int {
	depth := 0
	for _, r := range rel {
		if r == filepath.Separator {
			depth++
		}
	}
	return depth
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// pruneEmptyDirs recursively removes empty directories beneath root,
// never removing root itself.
func pruneEmptyDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(root, e.Name())
		pruneEmptyDirs(child)
		remaining, err := os.ReadDir(child)
		if err == nil && len(remaining) == 0 {
			_ = os.Remove(child)
		}
	}
}
