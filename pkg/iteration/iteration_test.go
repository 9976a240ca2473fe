package iteration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/actor/pkg/state"
	"github.com/ternarybob/actor/pkg/workers"
	"github.com/ternarybob/actor/pkg/workspace"
)

type fakeWorker struct {
	valid      bool
	calls      []int // iterations invoked
	diagnostic string
}

func (f *fakeWorker) Run(ctx context.Context, projectName string, iteration, previousTestCount int, logDir string) workers.Result {
	f.calls = append(f.calls, iteration)
	return workers.Result{Valid: f.valid, Attempts: 1, Diagnostic: f.diagnostic}
}

func newMachine(t *testing.T, translator, discriminator worker, maxIterations int) (*Machine, *state.Store) {
	t.Helper()
	root := t.TempDir()
	store := state.NewStore(root)

	inst := state.New("echo", "sess1", "t1", "d1", maxIterations, 3)
	ws := workspace.New(root + "/" + inst.Key())

	inputDir := t.TempDir()

	m := New(inst, store, ws, translator, discriminator, inputDir, t.TempDir())
	return m, store
}

func TestMachineRunsIterationZeroThenCompletes(t *testing.T) {
	translator := &fakeWorker{valid: true}
	discriminator := &fakeWorker{valid: true}
	m, store := newMachine(t, translator, discriminator, 1)

	err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, state.StatusCompleted, m.Instance.Status)
	assert.Equal(t, []int{0}, translator.calls[:1])
	assert.Equal(t, []int{0, 1}, translator.calls)
	assert.Equal(t, []int{1}, discriminator.calls)

	reloaded, err := store.LoadInstance(m.Instance.Key())
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, reloaded.Status)
	assert.Len(t, reloaded.Backups, 2)
}

func TestMachineStopsOnDiscriminatorFailure(t *testing.T) {
	translator := &fakeWorker{valid: true}
	discriminator := &fakeWorker{valid: false, diagnostic: "harness disagreement"}
	m, _ := newMachine(t, translator, discriminator, 2)

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, state.StatusError, m.Instance.Status)
	assert.Contains(t, m.Instance.Errors[len(m.Instance.Errors)-1].Message, "harness disagreement")
}

func TestMachineSkipsIterationZeroWhenResumed(t *testing.T) {
	translator := &fakeWorker{valid: true}
	discriminator := &fakeWorker{valid: true}
	m, _ := newMachine(t, translator, discriminator, 2)
	require.NoError(t, m.Workspace.Create()) // continuation already populates the workspace
	m.Instance.CurrentIteration = 2           // simulate continuation restored at iteration 1

	err := m.Run(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, translator.calls, 0)
	assert.Equal(t, state.StatusCompleted, m.Instance.Status)
}

func TestMachineStopsAtPhaseBoundaryOnRequestStop(t *testing.T) {
	translator := &fakeWorker{valid: true}
	discriminator := &fakeWorker{valid: true}
	m, _ := newMachine(t, translator, discriminator, 5)
	m.Instance.RequestStop()

	err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.StatusStopped, m.Instance.Status)
	assert.Empty(t, translator.calls)
}
