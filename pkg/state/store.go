package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/actor/internal/fileutil"
)

// StateFileName is the persisted state file's basename inside a workspace.
const StateFileName = ".translation_state.json"

// Store is the single writer of .translation_state.json files. Every other
// component mutates a ProjectInstance in memory and calls back into Store
// to persist it, keeping exactly one code path touching the JSON file
// (spec.md §3's ownership rule).
type Store struct {
	WorkingRoot string
}

// NewStore creates a Store rooted at workingRoot (the configured
// working_directory).
func NewStore(workingRoot string) *Store {
	return &Store{WorkingRoot: workingRoot}
}

// Path returns the state file path for a given project_instance key.
func (s *Store) Path(instanceKey string) string {
	return filepath.Join(s.WorkingRoot, instanceKey, StateFileName)
}

// Save atomically persists instance to its state file: it writes to a
// temp file in the same directory and renames over the target, so a crash
// mid-write never leaves a truncated state file behind.
func (s *Store) Save(instance *ProjectInstance) error {
	path := s.Path(instance.Key())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state: create instance dir: %w", err)
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal instance: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: rename temp state: %w", err)
	}
	return nil
}

// Load reads and parses a state file at path.
func Load(path string) (*ProjectInstance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: read %q: %w", path, err)
	}

	var instance ProjectInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("state: parse %q: %w", path, err)
	}
	return &instance, nil
}

// LoadInstance loads the state file for a given project_instance key under
// the store's working root.
func (s *Store) LoadInstance(instanceKey string) (*ProjectInstance, error) {
	return Load(s.Path(instanceKey))
}

// ListInstanceDirs returns every subdirectory of WorkingRoot that contains
// a .translation_state.json file, i.e. every known instance workspace.
func (s *Store) ListInstanceDirs() ([]string, error) {
	entries, err := os.ReadDir(s.WorkingRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: list working root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(s.WorkingRoot, e.Name(), StateFileName)
		if fileutil.Exists(candidate) {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}
