package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/backend/echo"
)

func TestLimit_RejectsWhenFull(t *testing.T) {
	d := backend.Limit(echo.New(), 1)

	first, err := d.Open(context.Background(), backend.OpenRequest{})
	require.NoError(t, err)

	_, err = d.Open(context.Background(), backend.OpenRequest{})
	assert.ErrorIs(t, err, backend.ErrTooManyCalls)

	require.NoError(t, first.Close())

	second, err := d.Open(context.Background(), backend.OpenRequest{})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestLimit_ReleasesWhenStreamEnds(t *testing.T) {
	d := backend.Limit(echo.New(), 1)

	call, err := d.Open(context.Background(), backend.OpenRequest{})
	require.NoError(t, err)
	require.NoError(t, call.Send(context.Background(), []byte("hi")))
	require.NoError(t, call.CloseSend())

	var kinds []backend.Kind
	for ev := range call.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []backend.Kind{backend.KindMetadata, backend.KindChunk, backend.KindComplete}, kinds)

	require.Eventually(t, func() bool {
		c, err := d.Open(context.Background(), backend.OpenRequest{})
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestLimit_Disabled(t *testing.T) {
	inner := echo.New()
	assert.Same(t, backend.Dialer(inner), backend.Limit(inner, 0))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "CHUNK", backend.KindChunk.String())
	assert.Equal(t, "KIND(9)", backend.Kind(9).String())
	assert.True(t, backend.Failed(nil).Terminal())
	assert.False(t, backend.Chunk(nil).Terminal())
}
