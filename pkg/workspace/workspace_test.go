package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitFromInputSeedsCFiles(t *testing.T) {
	root := t.TempDir()
	input := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(input, "util.c"), []byte("int x;"), 0o644))

	ws := New(root)
	errs := ws.InitFromInput(input)
	assert.Empty(t, errs)

	assert.FileExists(t, filepath.Join(ws.CFiles(), "util.c"))
	assert.DirExists(t, ws.Sandbox())
}

func TestHydrateOverwritesTampering(t *testing.T) {
	root := t.TempDir()
	ws := New(root)
	require.NoError(t, ws.Create())

	require.NoError(t, os.WriteFile(filepath.Join(ws.CFiles(), "a.c"), []byte("committed"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Sandbox(), "a.c"), []byte("tampered"), 0o644))

	errs := ws.HydrateSandboxFromCommitted(false)
	assert.Empty(t, errs)

	got, err := os.ReadFile(filepath.Join(ws.Sandbox(), "a.c"))
	require.NoError(t, err)
	assert.Equal(t, "committed", string(got))
}

func TestSanitizeMainRemovesMainArtifact(t *testing.T) {
	root := t.TempDir()
	ws := New(root)
	require.NoError(t, ws.Create())

	mainPath := filepath.Join(ws.Sandbox(), "main")
	require.NoError(t, os.WriteFile(mainPath, []byte("elf"), 0o755))

	require.NoError(t, ws.SanitizeMain())
	assert.NoFileExists(t, mainPath)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	backup := t.TempDir()
	input := t.TempDir()

	ws := New(src)
	require.NoError(t, ws.Create())
	require.NoError(t, os.MkdirAll(filepath.Join(ws.RSFiles(), "ts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws.RSFiles(), "ts", "main.rs"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.RSFiles(), "ts", "main.rs"), []byte("fn main(){}"), 0o644))

	errs := ws.BackupTo(backup)
	assert.Empty(t, errs)
	assert.FileExists(t, filepath.Join(backup, "rs_files", "ts", "main.rs"))

	dst := t.TempDir()
	ws2 := New(dst)
	errs = ws2.RestoreFromBackup(input, backup)
	assert.Empty(t, errs)
	assert.FileExists(t, filepath.Join(ws2.Sandbox(), "ts", "main.rs"))
}
