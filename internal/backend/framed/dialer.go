package framed

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
)

// ErrCallClosed is returned by Send and CloseSend after the call was closed locally.
var ErrCallClosed = errors.New("framed: call closed")

// Dialer opens calls through a relay.
type Dialer struct {
	Addr         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
}

// NewDialer creates a Dialer for the relay at addr.
func NewDialer(addr string) *Dialer {
	return &Dialer{Addr: addr, DialTimeout: 10 * time.Second}
}

// Open implements backend.Dialer.
func (d *Dialer) Open(ctx context.Context, req backend.OpenRequest) (backend.Call, error) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial relay %s", d.Addr)
	}

	c := &call{
		conn:         conn,
		writeTimeout: d.WriteTimeout,
		events:       make(chan backend.Event, 16),
		done:         make(chan struct{}),
	}
	open := &Frame{Type: FrameTypeOpen, SessionID: req.SessionID, ModelID: req.ModelID}
	if err := c.write(open); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to send open frame")
	}
	go c.readLoop(bufio.NewReader(conn), d.MaxFrameSize)
	return c, nil
}

type call struct {
	conn         net.Conn
	writeTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	sendDone bool

	events    chan backend.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *call) write(f *Frame) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return WriteFrame(c.conn, f)
}

func (c *call) Send(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.sendDone {
		return ErrCallClosed
	}
	return c.write(&Frame{Type: FrameTypeChunk, Payload: chunk})
}

func (c *call) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrCallClosed
	}
	if c.sendDone {
		return nil
	}
	c.sendDone = true
	return c.write(&Frame{Type: FrameTypeCloseSend})
}

func (c *call) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *call) Events() <-chan backend.Event {
	return c.events
}

func (c *call) emit(ev backend.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *call) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *call) readLoop(r *bufio.Reader, maxSize int) {
	defer close(c.events)
	for {
		f, err := ReadFrame(r, maxSize)
		if err != nil {
			if !c.isClosed() {
				c.emit(backend.Failed(errors.Wrap(err, "relay connection lost")))
			}
			return
		}

		var ev backend.Event
		switch f.Type {
		case FrameTypeMetadata:
			ev = backend.Metadata(f.RequestID)
		case FrameTypeChunk:
			ev = backend.Chunk(f.Payload)
		case FrameTypeError:
			ev = backend.Failed(errors.New(f.Error))
		case FrameTypeComplete:
			ev = backend.Completed()
		default:
			log.Debug().Str("component", "framed").Stringer("type", f.Type).Msg("unexpected frame from relay")
			continue
		}
		if !c.emit(ev) || ev.Terminal() {
			return
		}
	}
}
