package lproc

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	archive := t.TempDir()
	return NewManager(root, archive)
}

func TestAppendRejectsWrongLineCount(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdin"), nil, 0o644))

	err := m.Append("demo", 2, []byte("only one line\n"))
	assert.Error(t, err)

	data, readErr := os.ReadFile(filepath.Join(m.Root, "demo.stdin"))
	require.NoError(t, readErr)
	assert.Empty(t, data)
}

func TestAppendAcceptsExactLineCount(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdin"), nil, 0o644))

	require.NoError(t, m.Append("demo", 2, []byte("line one\nline two\n")))

	data, err := os.ReadFile(filepath.Join(m.Root, "demo.stdin"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestValidateLineCountStripsTrailingCRLF(t *testing.T) {
	assert.NoError(t, validateLineCount([]byte("a\r\nb\r\n"), 2))
	assert.Error(t, validateLineCount([]byte("a\r\nb\r\n"), 3))
}

func TestInfoReportsAgeAnyIOAsMinAge(t *testing.T) {
	m := newTestManager(t)
	stdin := filepath.Join(m.Root, "demo.stdin")
	stdout := filepath.Join(m.Root, "demo.stdout")
	require.NoError(t, os.WriteFile(stdin, nil, 0o644))
	require.NoError(t, os.WriteFile(stdout, nil, 0o644))

	// Age stdin's mtime so stdout is the freshest file.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stdin, old, old))

	info, err := m.Info("demo")
	require.NoError(t, err)
	assert.False(t, info.Running)
	assert.Less(t, info.AgeAnyIO, time.Minute)
}

func TestKillWithNoRunningPipelineIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdin"), nil, 0o644))

	assert.NoError(t, m.Kill("demo"))

	_, err := os.Stat(filepath.Join(m.Root, "demo.stdin"))
	assert.NoError(t, err)
}

func TestDeleteArchivesFilesWhenNotRunning(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdin"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdout"), []byte("hi\n"), 0o644))

	dest, err := m.Delete("demo")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "demo.stdin"))
	assert.FileExists(t, filepath.Join(dest, "demo.stdout"))

	_, err = os.Stat(filepath.Join(m.Root, "demo.stdin"))
	assert.True(t, os.IsNotExist(err))
}

func TestExportCopiesFilesWithoutRemovingOriginals(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdin"), []byte("in\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdout"), []byte("out\n"), 0o644))

	dir := t.TempDir()
	require.NoError(t, m.Export("demo", dir))

	assert.FileExists(t, filepath.Join(dir, "demo.stdout"))
	assert.FileExists(t, filepath.Join(m.Root, "demo.stdout"))
}

func TestPrettyUnConverterIsPassthrough(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdout"), []byte("line1\nline2\nline3\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, m.Pretty("demo", StreamStdout, 2, "un", nil, &buf))
	assert.Equal(t, "line2\nline3\n", buf.String())
}

func TestPrettyZeroLinesYieldsNoOutput(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdout"), []byte("line1\nline2\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, m.Pretty("demo", StreamStdout, 0, "un", nil, &buf))
	assert.Empty(t, buf.String())
}

func TestPrettyNegativeOneStreamsWholeFile(t *testing.T) {
	m := newTestManager(t)
	content := "a\nb\nc\n"
	require.NoError(t, os.WriteFile(filepath.Join(m.Root, "demo.stdout"), []byte(content), 0o644))

	var buf bytes.Buffer
	require.NoError(t, m.Pretty("demo", StreamStdout, -1, "un", nil, &buf))
	assert.Equal(t, content, buf.String())
}

func TestCCConverterRendersResultLine(t *testing.T) {
	input := `{"type":"result","subtype":"success","result":"done"}` + "\n"
	var buf bytes.Buffer
	require.NoError(t, transcriptConverter(input, nil, &buf))
	assert.Contains(t, buf.String(), "done")
}
