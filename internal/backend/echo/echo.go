// Package echo provides an in-process backend that sends every outbound chunk straight back.
package echo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/omochice/realtime-bridge/internal/backend"
)

// ErrCallClosed is returned by Send after CloseSend or Close.
var ErrCallClosed = errors.New("echo: call closed")

// Dialer opens echo calls.
type Dialer struct {
	// Buffer is the capacity of each call's event channel. Defaults to 64.
	Buffer int
}

// New returns an echo Dialer.
func New() *Dialer {
	return &Dialer{}
}

// Open implements backend.Dialer.
func (d *Dialer) Open(_ context.Context, _ backend.OpenRequest) (backend.Call, error) {
	n := d.Buffer
	if n <= 0 {
		n = 64
	}
	c := &call{events: make(chan backend.Event, n)}
	c.events <- backend.Metadata(uuid.NewString())
	return c, nil
}

type call struct {
	mu     sync.Mutex
	events chan backend.Event
	closed bool
}

func (c *call) Send(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCallClosed
	}
	payload := append([]byte(nil), chunk...)
	select {
	case c.events <- backend.Chunk(payload):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *call) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	// A reader that stopped draining gets the bare close instead of Completed.
	select {
	case c.events <- backend.Completed():
	default:
	}
	close(c.events)
	return nil
}

func (c *call) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

func (c *call) Events() <-chan backend.Event {
	return c.events
}
