// Package lproc implements the Long-Process Supervisor: a file-backed,
// crash-tolerant buffer around a detached command pipeline, so an LLM-agent
// session can be driven by appends to a file and its output read by
// tailing a file.
package lproc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// Manager owns every LProc rooted at Root (the configured lproc_root) and
// the archive area completed/killed LProcs are moved into.
type Manager struct {
	Root        string
	ArchiveRoot string
}

// NewManager returns a Manager rooted at root, archiving into archiveRoot.
func NewManager(root, archiveRoot string) *Manager {
	return &Manager{Root: root, ArchiveRoot: archiveRoot}
}

// Files are the three fan-out paths backing one LProc.
type Files struct {
	Stdin  string
	Stdout string
	Stderr string
}

func (m *Manager) files(name string) Files {
	return Files{
		Stdin:  filepath.Join(m.Root, name+".stdin"),
		Stdout: filepath.Join(m.Root, name+".stdout"),
		Stderr: filepath.Join(m.Root, name+".stderr"),
	}
}

// Info is everything the scheduler and Agent Runner need to reason about
// one LProc: its liveness, its files, and its process group.
type Info struct {
	Name      string
	Files     Files
	Running   bool
	PGID      int
	PIDs      []int
	StdinAge  time.Duration
	StdoutAge time.Duration
	StderrAge time.Duration
	// AgeAnyIO is min(age per file) — the liveness signal Agent Runner's
	// stall watchdog polls.
	AgeAnyIO time.Duration
}

// ErrNameCollision signals that start() was asked to reuse files still on
// disk.
type ErrNameCollision struct {
	Name    string
	Extant  []string
}

func (e *ErrNameCollision) Error() string {
	return fmt.Sprintf("lproc: %q already has files on disk: %v", e.Name, e.Extant)
}

// Start ensures name's three files do not already exist, then launches
// `lptail -f <stdin> | stdbuf -oL bash -c <cmd>` as a detached new-session
// process group (spec.md §4.B.1). The inner pipeline's stdout/stderr are
// redirected to the stdout/stderr files; a short readiness retry confirms
// the pipeline became visible to the process scanner.
func (m *Manager) Start(name, cmd string) (*Info, error) {
	files := m.files(name)
	var extant []string
	for _, p := range []string{files.Stdin, files.Stdout, files.Stderr} {
		if _, err := os.Stat(p); err == nil {
			extant = append(extant, p)
		}
	}
	if len(extant) > 0 {
		return nil, &ErrNameCollision{Name: name, Extant: extant}
	}

	if err := os.MkdirAll(m.Root, 0o755); err != nil {
		return nil, fmt.Errorf("lproc: create root: %w", err)
	}
	if f, err := os.Create(files.Stdin); err != nil {
		return nil, fmt.Errorf("lproc: create stdin file: %w", err)
	} else {
		f.Close()
	}

	stdout, err := os.Create(files.Stdout)
	if err != nil {
		return nil, fmt.Errorf("lproc: create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(files.Stderr)
	if err != nil {
		return nil, fmt.Errorf("lproc: create stderr file: %w", err)
	}
	defer stderr.Close()

	lptailPath, err := exec.LookPath("lptail")
	if err != nil {
		lptailPath = "lptail"
	}

	pipeline := fmt.Sprintf("%s -f %s | stdbuf -oL bash -c %s",
		shellQuote(lptailPath), shellQuote(files.Stdin), shellQuote(cmd))

	inner := exec.Command("bash", "-c", pipeline)
	inner.Stdout = stdout
	inner.Stderr = stderr
	inner.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := inner.Start(); err != nil {
		return nil, fmt.Errorf("lproc: spawn pipeline: %w", err)
	}
	// Detach: the orchestrator process does not wait on the child: the
	// whole point of a Long Process is that it survives our exit.
	go func() { _ = inner.Process.Release() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := m.Info(name); err == nil && info.Running {
			return info, nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Not fatal per spec.md §4.B.5: report unconfirmed, caller may retry.
	return &Info{Name: name, Files: files, Running: false}, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// List returns Info for every stdin file found under the lproc root,
// whether or not a live pipeline backs it (spec.md §4.B.4 "list").
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lproc: read root: %w", err)
	}

	snap, _ := ScanProcesses(m.Root)

	var out []*Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".stdin" {
			continue
		}
		name := e.Name()[:len(e.Name())-len(".stdin")]
		info, err := m.infoFrom(name, snap)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Info resolves one LProc's liveness and file ages (spec.md §4.B.4 "info").
func (m *Manager) Info(name string) (*Info, error) {
	snap, _ := ScanProcesses(m.Root)
	return m.infoFrom(name, snap)
}

func (m *Manager) infoFrom(name string, snap map[string]ProcInfo) (*Info, error) {
	files := m.files(name)
	info := &Info{Name: name, Files: files}

	stdinAge, stdinErr := fileAge(files.Stdin)
	stdoutAge, stdoutErr := fileAge(files.Stdout)
	stderrAge, stderrErr := fileAge(files.Stderr)
	if stdinErr != nil && stdoutErr != nil && stderrErr != nil {
		return nil, fmt.Errorf("lproc: %q not found", name)
	}

	info.StdinAge, info.StdoutAge, info.StderrAge = stdinAge, stdoutAge, stderrAge
	info.AgeAnyIO = minDuration(stdinAge, stdoutAge, stderrAge)

	if p, ok := snap[files.Stdin]; ok {
		info.Running = true
		info.PGID = p.PGID
		info.PIDs = p.PIDs()
	}
	return info, nil
}

func fileAge(path string) (time.Duration, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return time.Since(st.ModTime()), nil
}

func minDuration(ds ...time.Duration) time.Duration {
	min := time.Duration(1<<63 - 1)
	found := false
	for _, d := range ds {
		if d < min {
			min = d
			found = true
		}
	}
	if !found {
		return 0
	}
	return min
}

// Kill terminates name's process group: SIGTERM, poll up to 1.5s, then
// SIGKILL if anything survives. Files are retained (spec.md §4.B.4 "kill").
func (m *Manager) Kill(name string) error {
	info, err := m.Info(name)
	if err != nil {
		return err
	}
	if !info.Running {
		// Idempotent on files; a warning, not an error (spec.md boundary
		// behavior: "kill on a name with no running pipeline succeeds").
		return nil
	}

	if info.PGID > 0 {
		_ = syscall.Kill(-info.PGID, syscall.SIGTERM)
	} else {
		for _, pid := range info.PIDs {
			_ = syscall.Kill(pid, syscall.SIGTERM)
		}
	}

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if refreshed, err := m.Info(name); err == nil && !refreshed.Running {
			return nil
		}
	}

	refreshed, err := m.Info(name)
	if err != nil {
		return nil
	}
	if refreshed.PGID > 0 {
		_ = syscall.Kill(-refreshed.PGID, syscall.SIGKILL)
	} else {
		for _, pid := range refreshed.PIDs {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}

	time.Sleep(200 * time.Millisecond)
	final, err := m.Info(name)
	if err == nil && final.Running {
		return fmt.Errorf("lproc: %q still alive after SIGKILL: pids %v", name, final.PIDs)
	}
	return nil
}

// Delete archives name's three files into ArchiveRoot/<name>_<timestamp>/.
// It refuses while the pipeline is still running (spec.md §4.B.4 "delete").
func (m *Manager) Delete(name string) (string, error) {
	info, err := m.Info(name)
	if err != nil {
		return "", err
	}
	if info.Running {
		return "", fmt.Errorf("lproc: %q is still running, kill it first", name)
	}

	dest := filepath.Join(m.ArchiveRoot, fmt.Sprintf("%s_%s", name, time.Now().Format("20060102_150405")))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("lproc: create archive dir: %w", err)
	}

	for _, src := range []string{info.Files.Stdin, info.Files.Stdout, info.Files.Stderr} {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(dest, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return "", fmt.Errorf("lproc: archive %q: %w", src, err)
		}
	}
	return dest, nil
}

// Export copies name's three files into dir, creating it as needed
// (spec.md §4.B.4 "export").
func (m *Manager) Export(name, dir string) error {
	info, err := m.Info(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lproc: create export dir: %w", err)
	}
	for _, src := range []string{info.Files.Stdin, info.Files.Stdout, info.Files.Stderr} {
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("lproc: read %q: %w", src, err)
		}
		dst := filepath.Join(dir, filepath.Base(src))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("lproc: write %q: %w", dst, err)
		}
	}
	return nil
}

// Append validates that data holds exactly n newline-terminated lines
// (after stripping trailing CR/LF) and, only then, appends the raw bytes
// to name's stdin file (spec.md §4.B.4 "append", invariant 5).
func (m *Manager) Append(name string, n int, data []byte) error {
	if n <= 0 {
		return fmt.Errorf("lproc: append: N must be positive")
	}
	if err := validateLineCount(data, n); err != nil {
		return err
	}

	path := m.files(name).Stdin
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("lproc: open %q: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("lproc: append to %q: %w", path, err)
	}
	return nil
}

func validateLineCount(data []byte, want int) error {
	trimmed := data
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	if len(trimmed) == 0 {
		if want != 0 {
			return fmt.Errorf("lproc: append: expected %d lines, got 0", want)
		}
		return nil
	}

	got := 1
	for _, b := range trimmed {
		if b == '\n' {
			got++
		}
	}
	if got != want {
		return fmt.Errorf("lproc: append: expected exactly %d lines, got %d", want, got)
	}
	return nil
}
