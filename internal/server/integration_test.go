package server_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/backend/echo"
	"github.com/omochice/realtime-bridge/internal/backend/framed"
	"github.com/omochice/realtime-bridge/internal/client"
	"github.com/omochice/realtime-bridge/internal/config"
)

func startRelay(t *testing.T) string {
	t.Helper()
	relay := framed.NewServer("127.0.0.1:0", echo.New())
	go func() { _ = relay.Start() }()
	select {
	case <-relay.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not start in time")
	}
	t.Cleanup(relay.Stop)
	return relay.Addr()
}

func TestIntegration_ClientThroughRelay(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.Kind = config.BackendFramed
	cfg.Backend.FramedAddr = startRelay(t)
	srv := startServer(t, cfg)

	c1 := client.New("ws://" + srv.Addr() + cfg.Server.Path)
	require.NoError(t, c1.Connect(context.Background()))
	c2 := client.New("ws://" + srv.Addr() + cfg.Server.Path)
	require.NoError(t, c2.Connect(context.Background()))

	for i := 0; i < 20; i++ {
		require.NoError(t, c1.Send(fmt.Sprintf("c1-%02d", i)))
		require.NoError(t, c2.Send(fmt.Sprintf("c2-%02d", i)))
	}

	for _, tc := range []struct {
		prefix string
		c      *client.Client
	}{{"c1", c1}, {"c2", c2}} {
		for i := 0; i < 20; i++ {
			select {
			case msg := <-tc.c.Messages():
				assert.Equal(t, fmt.Sprintf("%s-%02d", tc.prefix, i), msg, "sessions stay isolated and ordered")
			case <-time.After(2 * time.Second):
				t.Fatalf("%s: message %d not received", tc.prefix, i)
			}
		}
	}
	assert.Equal(t, 2, srv.Sessions().Count())

	c1.Disconnect(time.Second)
	c2.Disconnect(time.Second)
	require.NotNil(t, c1.Status())
	assert.Equal(t, websocket.CloseNormalClosure, c1.Status().Code)

	require.Eventually(t, func() bool { return srv.Sessions().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), srv.Sessions().Total())
}
