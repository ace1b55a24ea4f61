package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/backend/echo"
	"github.com/omochice/realtime-bridge/internal/client"
	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/server"
)

func startServer(t *testing.T, mutate ...func(*config.Config)) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Backend.Kind = config.BackendEcho
	for _, m := range mutate {
		m(cfg)
	}

	srv := server.New(cfg, echo.New())
	go func() { _ = srv.Start() }()
	select {
	case <-srv.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start in time")
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return "ws://" + srv.Addr() + cfg.Server.Path
}

func receive(t *testing.T, c *client.Client) string {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "messages closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return ""
	}
}

func TestClient_SendReceive(t *testing.T) {
	c := client.New(startServer(t))
	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())

	require.NoError(t, c.Send("hello"))
	require.NoError(t, c.Send("world"))
	assert.Equal(t, "hello", receive(t, c))
	assert.Equal(t, "world", receive(t, c))

	c.Disconnect(time.Second)
	assert.False(t, c.IsConnected())
	require.NotNil(t, c.Status())
	assert.Equal(t, websocket.CloseNormalClosure, c.Status().Code)

	_, ok := <-c.Messages()
	assert.False(t, ok)
}

func TestClient_ServerClose(t *testing.T) {
	c := client.New(startServer(t, func(cfg *config.Config) {
		cfg.Server.IdleTimeout = 100 * time.Millisecond
	}))
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not done")
	}
	require.NotNil(t, c.Status())
	assert.Equal(t, websocket.CloseInternalServerErr, c.Status().Code)

	c.Disconnect(10 * time.Millisecond)
	assert.ErrorIs(t, c.Send("late"), client.ErrNotConnected)
}

func TestClient_NotConnected(t *testing.T) {
	c := client.New("ws://127.0.0.1:1/interact-s2s")
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Send("hello"), client.ErrNotConnected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, c.Connect(ctx))
	c.Disconnect(time.Millisecond)
}
