// Package workspace manages the fixed per-instance directory layout
// (sandbox/, c_files/, rs_files/, test_cases/, log_files/) that every other
// component reads and writes, and the whitelist-filtered mirrors between
// them (spec.md §3, "Workspace").
package workspace

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/actor/pkg/snapshot"
	"github.com/ternarybob/actor/pkg/whitelist"
)

// Workspace is the per-instance directory tree rooted at
// working_root/project_instance/.
type Workspace struct {
	Root string
}

// New returns a Workspace handle rooted at root. It does not touch disk.
func New(root string) *Workspace {
	return &Workspace{Root: root}
}

// Sandbox is the mutable scratch directory the agent operates in.
func (w *Workspace) Sandbox() string { return filepath.Join(w.Root, "sandbox") }

// CFiles is the immutable, committed C sources directory.
func (w *Workspace) CFiles() string { return filepath.Join(w.Root, "c_files") }

// RSFiles is the committed Rust artifacts directory.
func (w *Workspace) RSFiles() string { return filepath.Join(w.Root, "rs_files") }

// TestCases is the committed discriminator artifacts directory.
func (w *Workspace) TestCases() string { return filepath.Join(w.Root, "test_cases") }

// LogFiles is the agent transcript directory.
func (w *Workspace) LogFiles() string { return filepath.Join(w.Root, "log_files") }

// dirs lists every fixed sub-area, in creation order.
func (w *Workspace) dirs() []string {
	return []string{w.Sandbox(), w.CFiles(), w.RSFiles(), w.TestCases(), w.LogFiles()}
}

// Create makes every fixed sub-area directory, if absent.
func (w *Workspace) Create() error {
	for _, dir := range w.dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("workspace: create %q: %w", dir, err)
		}
	}
	return nil
}

// InitFromInput seeds c_files/ from inputDir (the per-project source
// directory) and creates an empty sandbox. Called once at instance
// initialization (spec.md §4.E, INITIALIZING phase).
func (w *Workspace) InitFromInput(inputDir string) []error {
	if err := w.Create(); err != nil {
		return []error{err}
	}
	return snapshot.Sync(inputDir, w.CFiles(), whitelist.C, snapshot.Options{})
}

// HydrateSandboxFromCommitted overwrites the C sources and, optionally, the
// test cases inside sandbox/ with the committed copies — the anti-cheat
// hydrate step run before every validation attempt (spec.md §4.D step 1).
func (w *Workspace) HydrateSandboxFromCommitted(includeTests bool) []error {
	var errs []error
	errs = append(errs, snapshot.Sync(w.CFiles(), w.Sandbox(), whitelist.C, snapshot.Options{})...)
	if includeTests {
		errs = append(errs, snapshot.Sync(w.TestCases(), w.Sandbox(), whitelist.Tests, snapshot.Options{})...)
	}
	return errs
}

// CommitRust mirrors the Rust subset of sandbox/ back into rs_files/ after
// a successful translator worker attempt.
func (w *Workspace) CommitRust() []error {
	return snapshot.Sync(w.Sandbox(), w.RSFiles(), whitelist.Rust, snapshot.Options{})
}

// CommitTests mirrors the test-case subset of sandbox/ back into
// test_cases/ after a successful discriminator worker attempt.
func (w *Workspace) CommitTests() []error {
	return snapshot.Sync(w.Sandbox(), w.TestCases(), whitelist.Tests, snapshot.Options{})
}

// BackupTo snapshots rs_files/, test_cases/, and log_files/ exactly as
// committed into backupDir/{rs_files,test_cases,log_files} (spec.md §3,
// "Backup").
func (w *Workspace) BackupTo(backupDir string) []error {
	var errs []error
	errs = append(errs, snapshot.Sync(w.RSFiles(), filepath.Join(backupDir, "rs_files"), whitelist.Rust, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(w.TestCases(), filepath.Join(backupDir, "test_cases"), whitelist.Tests, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(w.LogFiles(), filepath.Join(backupDir, "log_files"), whitelist.Logs, snapshot.Options{})...)
	return errs
}

// RestoreFromBackup union-mirrors a prior iteration backup's committed
// areas into this workspace's committed areas and sandbox — the procedure
// continuation/fork uses to reconstruct a workspace rooted at iteration k
// (spec.md §4.G steps 3-5).
func (w *Workspace) RestoreFromBackup(inputDir, backupDir string) []error {
	var errs []error

	if err := w.Create(); err != nil {
		return []error{err}
	}

	errs = append(errs, snapshot.Sync(inputDir, w.CFiles(), whitelist.C, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(filepath.Join(backupDir, "rs_files"), w.RSFiles(), whitelist.Rust, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(filepath.Join(backupDir, "test_cases"), w.TestCases(), whitelist.Tests, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(filepath.Join(backupDir, "log_files"), w.LogFiles(), whitelist.Logs, snapshot.Options{})...)

	// Union-mirror c_files + rs_files + test_cases into sandbox so the
	// agent sees the exact post-iteration-k state.
	errs = append(errs, snapshot.Sync(w.CFiles(), w.Sandbox(), whitelist.C, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(w.RSFiles(), w.Sandbox(), whitelist.Rust, snapshot.Options{})...)
	errs = append(errs, snapshot.Sync(w.TestCases(), w.Sandbox(), whitelist.Tests, snapshot.Options{})...)

	return errs
}

// RemoveTestFiles deletes every whitelisted test-case file from sandbox/ —
// part of a worker's recovery-on-invalid procedure, for either role
// (spec.md §4.D, "Recovery on invalid").
func (w *Workspace) RemoveTestFiles() error {
	return filepath.Walk(w.Sandbox(), func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if whitelist.Tests.Match(info.Name()) {
			_ = os.Remove(path)
		}
		return nil
	})
}

// CountTestCases counts the JSONL test-case records committed in
// test_cases/, i.e. every non-blank line of every tests*.jsonl file. The
// Iteration State Machine reads this before running a Discriminator
// attempt to compute `previous_count` (spec.md §8 invariant 3).
func (w *Workspace) CountTestCases() (int, error) {
	entries, err := os.ReadDir(w.TestCases())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("workspace: read test_cases: %w", err)
	}

	count := 0
	for _, e := range entries {
		if e.IsDir() || !matchesTestsPattern(e.Name()) {
			continue
		}
		n, err := countNonBlankLines(filepath.Join(w.TestCases(), e.Name()))
		if err != nil {
			return 0, fmt.Errorf("workspace: count %q: %w", e.Name(), err)
		}
		count += n
	}
	return count, nil
}

func matchesTestsPattern(name string) bool {
	ok, err := filepath.Match("tests*.jsonl", name)
	return err == nil && ok
}

func countNonBlankLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, scanner.Err()
}

// SanitizeMain deletes any file or directory literally named "main" inside
// sandbox/ — the anti-cheat sanitize step run after the C build
// (spec.md §4.D step 3).
func (w *Workspace) SanitizeMain() error {
	return filepath.Walk(w.Sandbox(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Name() == "main" {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return rmErr
			}
			if info.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
}
