package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/bridge"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	reg := bridge.NewRegistry()
	d := &fakeDialer{}

	a, _ := newSession(t, d, bridge.Options{ID: "a"})
	b, _ := newSession(t, d, bridge.Options{ID: "b"})
	reg.Register(a)
	reg.Register(b)

	assert.Equal(t, 2, reg.Count())

	reg.Unregister(a)
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, uint64(2), reg.Total())

	reg.Unregister(a)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Backlog(t *testing.T) {
	reg := bridge.NewRegistry()
	d := &fakeDialer{gate: make(chan struct{})}
	defer close(d.gate)

	s, _ := newSession(t, d, bridge.Options{ID: "queued"})
	reg.Register(s)
	assert.Zero(t, reg.Backlog())

	s.OnText("one")
	s.OnText("two")
	assert.Equal(t, 2, s.Backlog())
	assert.Equal(t, 2, reg.Backlog())
}

func TestRegistry_ShutdownAbortsSessions(t *testing.T) {
	reg := bridge.NewRegistry()
	d := &fakeDialer{}

	idle, idleSink := newSession(t, d, bridge.Options{ID: "idle"})
	active, activeSink := newSession(t, d, bridge.Options{ID: "active"})
	active.OnText("start")
	activeCall(t, d)
	reg.Register(idle)
	reg.Register(active)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	for _, s := range []*bridge.Session{idle, active} {
		assert.ErrorIs(t, s.Err(), bridge.ErrShutdown)
	}
	for _, sink := range []*fakeSink{idleSink, activeSink} {
		require.Len(t, sink.Closes(), 1)
		assert.Equal(t, bridge.CloseGoingAway, sink.Closes()[0].code)
	}
}
