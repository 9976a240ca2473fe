// Package continuation implements the Continuation / Fork Manager
// (spec.md §4.G): a discovery pass over working_root/backup_root that
// surfaces prior runs as DiscoveredSession records, and a restore-at-
// iteration-k procedure that seeds a fresh instance's workspace from a
// source session's backup.
package continuation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/ternarybob/actor/pkg/state"
	"github.com/ternarybob/actor/pkg/workspace"
)

// DiscoveredSession is a prior run surfaced from disk, independent of the
// scheduler's in-memory instance map (spec.md §3, "DiscoveredSession").
type DiscoveredSession struct {
	ProjectName      string
	SessionID        string
	ProjectInstance  string
	TranslatorID     string
	DiscriminatorID  string
	CurrentIteration int
	AvailableBackups []int // ascending
	View             state.View
}

// Manager performs discovery and restore over a fixed working_root and
// backup_root pair.
type Manager struct {
	WorkingRoot string
	BackupRoot  string
	Store       *state.Store
}

// New builds a Manager rooted at the given directories.
func New(workingRoot, backupRoot string) *Manager {
	return &Manager{
		WorkingRoot: workingRoot,
		BackupRoot:  backupRoot,
		Store:       state.NewStore(workingRoot),
	}
}

var iterationDirPattern = regexp.MustCompile(`^iteration_(\d+)$`)

// Discover implements the discovery pass of spec.md §4.G: every instance
// directory under working_root with a .translation_state.json is parsed,
// paired with its sorted available_backups from backup_root, and the
// results are returned sorted by last_updated descending.
func (m *Manager) Discover() ([]DiscoveredSession, error) {
	instanceDirs, err := m.Store.ListInstanceDirs()
	if err != nil {
		return nil, fmt.Errorf("continuation: list instance dirs: %w", err)
	}

	sessions := make([]DiscoveredSession, 0, len(instanceDirs))
	for _, dir := range instanceDirs {
		inst, err := m.Store.LoadInstance(dir)
		if err != nil {
			continue // a partially written state file is skipped, not fatal
		}

		backups, err := m.availableBackups(inst.Key())
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, DiscoveredSession{
			ProjectName:      inst.ProjectName,
			SessionID:        inst.SessionID,
			ProjectInstance:  inst.Key(),
			TranslatorID:     inst.TranslatorID,
			DiscriminatorID:  inst.DiscriminatorID,
			CurrentIteration: inst.CurrentIteration,
			AvailableBackups: backups,
			View:             inst.Snapshot(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].View.LastUpdated.After(sessions[j].View.LastUpdated)
	})
	return sessions, nil
}

func (m *Manager) availableBackups(instanceKey string) ([]int, error) {
	dir := filepath.Join(m.BackupRoot, instanceKey)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("continuation: list backups for %q: %w", instanceKey, err)
	}

	var backups []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if m := iterationDirPattern.FindStringSubmatch(e.Name()); m != nil {
			n, _ := strconv.Atoi(m[1])
			backups = append(backups, n)
		}
	}
	sort.Ints(backups)
	return backups, nil
}

// RestoreRequest parameterizes a restore-at-iteration-k call.
type RestoreRequest struct {
	SourceInstanceKey string // the session being continued or forked from
	Iteration         int    // the backup iteration to restore from
	InputDir          string // the project's C source directory

	NewProjectName      string
	NewSessionID        string // reused for continue, freshly generated for fork
	NewTranslatorID     string
	NewDiscriminatorID  string
	MaxIterations       int
	KNew                int
}

// Restore implements spec.md §4.G's restore-at-iteration-k procedure: it
// builds a fresh ProjectInstance and Workspace, mirrors the source
// session's iteration-k backup into the new instance's committed areas,
// union-mirrors them into sandbox/, and leaves the instance QUEUED at
// current_iteration = k+1. The caller (the REPL's `continue`/`fork`
// command handler in cmd/actor) still must call Scheduler.Add to register it.
func (m *Manager) Restore(req RestoreRequest) (*state.ProjectInstance, error) {
	inst := state.New(req.NewProjectName, req.NewSessionID, req.NewTranslatorID, req.NewDiscriminatorID, req.MaxIterations, req.KNew)

	ws := workspace.New(filepath.Join(m.WorkingRoot, inst.Key()))
	backupDir := filepath.Join(m.BackupRoot, req.SourceInstanceKey, fmt.Sprintf("iteration_%d", req.Iteration))

	if errs := ws.RestoreFromBackup(req.InputDir, backupDir); len(errs) > 0 {
		return nil, fmt.Errorf("continuation: restore from %q: %w", backupDir, errs[0])
	}

	inst.CurrentIteration = req.Iteration + 1
	inst.Transition(state.StatusQueued, fmt.Sprintf(
		"restored from %s iteration %d", req.SourceInstanceKey, req.Iteration))

	if err := m.Store.Save(inst); err != nil {
		return nil, fmt.Errorf("continuation: persist restored instance: %w", err)
	}

	return inst, nil
}
