package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/actor/pkg/dangerous"
	"github.com/ternarybob/actor/pkg/iteration"
	"github.com/ternarybob/actor/pkg/state"
)

func newTestScheduler(t *testing.T, maxParallel int, factory MachineFactory) *Scheduler {
	t.Helper()
	store := state.NewStore(t.TempDir())
	dl, err := dangerous.Load(t.TempDir() + "/missing.json")
	require.NoError(t, err)
	return New(maxParallel, store, dl, factory)
}

func noopFactory(inst *state.ProjectInstance) (*iteration.Machine, error) { return nil, nil }

func TestAddRefusesDangerousProject(t *testing.T) {
	listPath := t.TempDir() + "/dangerous.json"
	require.NoError(t, os.WriteFile(listPath, []byte(`{"ignore_list":["evil"]}`), 0o644))

	dl, err := dangerous.Load(listPath)
	require.NoError(t, err)

	s := New(2, state.NewStore(t.TempDir()), dl, noopFactory)
	inst := state.New("evil", "s1", "t", "d", 1, 3)

	err = s.Add(inst)
	assert.Error(t, err)
}

func TestResolveByIndexKeyNameSessionID(t *testing.T) {
	s := newTestScheduler(t, 2, noopFactory)

	a := state.New("echo", "s1", "t", "d", 1, 3)
	b := state.New("cat", "s2", "t", "d", 1, 3)
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	byIndex, err := s.Resolve("1")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), byIndex.Key())

	byKey, err := s.Resolve(b.Key())
	require.NoError(t, err)
	assert.Equal(t, b.Key(), byKey.Key())

	byName, err := s.Resolve("cat")
	require.NoError(t, err)
	assert.Equal(t, b.Key(), byName.Key())

	bySession, err := s.Resolve("s1")
	require.NoError(t, err)
	assert.Equal(t, a.Key(), bySession.Key())

	_, err = s.Resolve("nonexistent")
	assert.Error(t, err)
}

func TestStopAllRequestsStopOnEveryInstance(t *testing.T) {
	s := newTestScheduler(t, 2, noopFactory)

	a := state.New("echo", "s1", "t", "d", 1, 3)
	b := state.New("cat", "s2", "t", "d", 1, 3)
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))

	s.StopAll()
	assert.True(t, a.ShouldStop())
	assert.True(t, b.ShouldStop())
}

// TestActiveSetBlocksAdmissionAtMaxParallel exercises the active-set
// bookkeeping that tick()/spawn() rely on: with MaxParallel=1, a second
// fake run must not be admitted while the first still holds its
// active-set slot.
func TestActiveSetBlocksAdmissionAtMaxParallel(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	s := newTestScheduler(t, 1, noopFactory)
	a := state.New("alpha", "s1", "t", "d", 0, 3)
	require.NoError(t, s.Add(a))

	runFake := func(key string) {
		s.mu.Lock()
		s.active[key] = struct{}{}
		s.mu.Unlock()
		go func() {
			started <- struct{}{}
			<-release
			s.mu.Lock()
			delete(s.active, key)
			s.mu.Unlock()
		}()
	}

	runFake(a.Key())

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected the fake run to start")
	}

	s.mu.Lock()
	admitMore := len(s.active) < s.MaxParallel
	activeCount := len(s.active)
	s.mu.Unlock()

	assert.False(t, admitMore, "a second run must not be admitted while MaxParallel=1 slot is held")
	assert.Equal(t, s.MaxParallel, activeCount)

	close(release)
}

func TestSpawnSkipsAlreadyActiveInstance(t *testing.T) {
	calls := 0
	factory := func(inst *state.ProjectInstance) (*iteration.Machine, error) {
		calls++
		return nil, assertErrNotNilSentinel
	}
	s := newTestScheduler(t, 4, factory)
	inst := state.New("echo", "s1", "t", "d", 1, 3)
	require.NoError(t, s.Add(inst))

	s.mu.Lock()
	s.active[inst.Key()] = struct{}{}
	s.mu.Unlock()

	started := s.spawn(context.Background(), inst)
	assert.False(t, started)
	assert.Equal(t, 0, calls)
}

var assertErrNotNilSentinel = errSentinel{}

type errSentinel struct{}

func (errSentinel) Error() string { return "sentinel: factory should not be invoked" }
