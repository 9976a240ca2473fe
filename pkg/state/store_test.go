package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	inst := New("echo", "abc123", "translator-a", "discriminator-a", 3, 3)
	inst.Transition(StatusInitializing, "workspace created")
	inst.AppendBackup(0, filepath.Join(root, inst.Key(), "iteration_0"))

	require.NoError(t, store.Save(inst))

	loaded, err := store.LoadInstance(inst.Key())
	require.NoError(t, err)

	assert.Equal(t, inst.ProjectName, loaded.ProjectName)
	assert.Equal(t, inst.SessionID, loaded.SessionID)
	assert.Equal(t, StatusInitializing, loaded.Status)
	assert.Len(t, loaded.History, 1)
	assert.Len(t, loaded.Backups, 1)
	assert.Equal(t, 0, loaded.Backups[0].Iteration)
}

func TestStoreListInstanceDirs(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)

	inst := New("uname", "deadbe", "t1", "d1", 1, 3)
	require.NoError(t, store.Save(inst))

	dirs, err := store.ListInstanceDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{"uname_deadbe"}, dirs)
}

func TestInstanceControlFlags(t *testing.T) {
	inst := New("echo", "000000", "t", "d", 1, 3)
	assert.False(t, inst.ShouldStop())

	inst.RequestStop()
	assert.True(t, inst.ShouldStop())

	inst.RequestPause()
	assert.True(t, inst.ShouldPause())
	inst.Resume()
	assert.False(t, inst.ShouldPause())
}

func TestInstanceCompleteSetsEndTime(t *testing.T) {
	inst := New("echo", "000000", "t", "d", 1, 3)
	inst.Complete()
	require.NotNil(t, inst.EndTime)
	assert.Equal(t, StatusCompleted, inst.Status)
}
