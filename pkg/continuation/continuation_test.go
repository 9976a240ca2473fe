package continuation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/actor/pkg/state"
)

func TestDiscoverSortsByLastUpdatedDescending(t *testing.T) {
	workingRoot := t.TempDir()
	backupRoot := t.TempDir()
	store := state.NewStore(workingRoot)

	older := state.New("echo", "s1", "t", "d", 2, 3)
	older.LastUpdated = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(older))

	newer := state.New("cat", "s2", "t", "d", 2, 3)
	newer.LastUpdated = time.Now()
	require.NoError(t, store.Save(newer))

	require.NoError(t, os.MkdirAll(filepath.Join(backupRoot, newer.Key(), "iteration_0"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(backupRoot, newer.Key(), "iteration_1"), 0o755))

	m := New(workingRoot, backupRoot)
	sessions, err := m.Discover()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	assert.Equal(t, newer.Key(), sessions[0].ProjectInstance)
	assert.Equal(t, older.Key(), sessions[1].ProjectInstance)
	assert.Equal(t, []int{0, 1}, sessions[0].AvailableBackups)
	assert.Empty(t, sessions[1].AvailableBackups)
}

func TestRestoreSetsIterationAndQueuesInstance(t *testing.T) {
	workingRoot := t.TempDir()
	backupRoot := t.TempDir()
	inputDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(inputDir, "main.c"), []byte("int main(){return 0;}"), 0o644))

	sourceKey := "echo_orig"
	backupDir := filepath.Join(backupRoot, sourceKey, "iteration_2")
	require.NoError(t, os.MkdirAll(filepath.Join(backupDir, "rs_files"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "rs_files", "Cargo.toml"), []byte("[package]\nname=\"echo\"\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(backupDir, "test_cases"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(backupDir, "test_cases", "tests00.jsonl"), []byte(`{"in":"a"}`+"\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(backupDir, "log_files"), 0o755))

	m := New(workingRoot, backupRoot)
	inst, err := m.Restore(RestoreRequest{
		SourceInstanceKey: sourceKey,
		Iteration:         2,
		InputDir:          inputDir,
		NewProjectName:    "echo",
		NewSessionID:      "s-fork-1",
		NewTranslatorID:   "t1",
		NewDiscriminatorID: "d1",
		MaxIterations:     5,
		KNew:              3,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, inst.CurrentIteration)
	assert.Equal(t, state.StatusQueued, inst.Status)
	require.Len(t, inst.History, 1)
	assert.Contains(t, inst.History[0].Detail, sourceKey)

	instDir := filepath.Join(workingRoot, inst.Key())
	assert.FileExists(t, filepath.Join(instDir, "rs_files", "Cargo.toml"))
	assert.FileExists(t, filepath.Join(instDir, "sandbox", "Cargo.toml"))
	assert.FileExists(t, filepath.Join(instDir, "sandbox", "main.c"))
	assert.FileExists(t, filepath.Join(instDir, "sandbox", "tests00.jsonl"))

	reloaded, err := state.NewStore(workingRoot).LoadInstance(inst.Key())
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, reloaded.Status)
}
