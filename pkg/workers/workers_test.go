package workers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/actor/pkg/runner"
	"github.com/ternarybob/actor/pkg/workspace"
)

func TestRunHarnessParsesLoadedAndResultsLines(t *testing.T) {
	text := "Loaded 18 tests total\nResults: 17 passed, 1 failed out of 18 tests\nAll tests done.\n"
	result, err := parseHarnessOutput(text)
	require.NoError(t, err)
	assert.Equal(t, 18, result.TotalTests)
	assert.Equal(t, 17, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, result.AllPassed)
	assert.True(t, result.RustFailedAny)
}

func TestRunHarnessRejectsInconsistentCounts(t *testing.T) {
	text := "Results: 5 passed, 2 failed out of 10 tests\n"
	_, err := parseHarnessOutput(text)
	assert.Error(t, err)
}

func TestClassifyRustFailureDistinguishesCorruption(t *testing.T) {
	assert.Contains(t, classifyRustFailure("error: unexpected closing delimiter: `}`"), "corrupted")
	assert.Contains(t, classifyRustFailure("error[E0308]: mismatched types"), "compile error")
}

func TestPromptTemplateSubstitutesPlaceholders(t *testing.T) {
	w := &Worker{Role: RoleTranslator}
	prompt := w.promptTemplate("echo", 2, 0)
	assert.Contains(t, prompt, "echo")
	assert.Contains(t, prompt, "Version: 2")
}

func TestDiscriminatorPromptNamesKNew(t *testing.T) {
	w := &Worker{Role: RoleDiscriminator, KNew: 3}
	prompt := w.promptTemplate("echo", 1, 15)
	assert.Contains(t, prompt, "exactly 3 new test cases")
}

type stubRunner struct {
	outcome runner.Outcome
	err     error
	calls   int
}

func (s *stubRunner) Run(ctx context.Context, sessionName, prompt, logPath string) (runner.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func TestResolveCBinaryPrefersProjectName(t *testing.T) {
	sandbox := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sandbox, "echo"), []byte("#!/bin/sh\n"), 0o755))

	assert.Equal(t, "./echo", resolveCBinary(sandbox, "echo"))
}

func TestResolveCBinaryFallsBackToBinary1(t *testing.T) {
	sandbox := t.TempDir()

	assert.Equal(t, "./binary1", resolveCBinary(sandbox, "echo"))
}

func TestWorkerRunExhaustsAttemptsOnRunnerFailure(t *testing.T) {
	root := t.TempDir()
	ws := workspace.New(root)
	require.NoError(t, ws.Create())

	stub := &stubRunner{outcome: runner.Failed("agent gave up")}
	w := &Worker{Role: RoleTranslator, Runner: stub, Workspace: ws}

	result := w.Run(context.Background(), "echo", 1, 0, t.TempDir())
	assert.False(t, result.Valid)
	assert.Equal(t, MaxAttempts, result.Attempts)
	assert.Equal(t, MaxAttempts, stub.calls)
	assert.Contains(t, result.Diagnostic, "agent gave up")
}
