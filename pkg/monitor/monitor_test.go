package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatusSource struct{ value any }

func (f fakeStatusSource) Status() any { return f.value }

func TestEmitFansOutToSubscribers(t *testing.T) {
	m := New(":0", fakeStatusSource{value: "ok"})

	ch := m.subscribe()
	defer m.unsubscribe(ch)

	m.Emit(NewEvent(EventInstanceQueued, "echo_s1").WithData("k_new", 3))

	select {
	case event := <-ch:
		assert.Equal(t, EventInstanceQueued, event.Type)
		assert.Equal(t, "echo_s1", event.Instance)
		assert.Equal(t, 3, event.Data["k_new"])
	case <-time.After(time.Second):
		t.Fatal("expected emitted event to reach subscriber")
	}
}

func TestStopClosesSubscribersAndIsIdempotent(t *testing.T) {
	m := New(":0", nil)
	require.NoError(t, m.Start(context.Background()))

	ch := m.subscribe()

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel must be closed on Stop")
}
