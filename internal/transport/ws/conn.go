// Package ws provides the server side of client WebSocket connections.
package ws

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"

	"github.com/omochice/realtime-bridge/internal/bridge"
)

// ErrClosed is returned by SendText once the connection is closed.
var ErrClosed = errors.New("ws: connection closed")

// Config holds per-connection limits.
type Config struct {
	// MaxMessageSize caps one text message in bytes. Zero means unlimited.
	MaxMessageSize int64
	// IdleTimeout closes a connection that sends nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds every frame write. Zero disables it.
	WriteTimeout time.Duration
}

// Conn adapts an upgraded connection to bridge.ClientSink and drives a
// bridge.ClientHandler from its read loop.
type Conn struct {
	conn       net.Conn
	src        io.Reader
	cfg        Config
	remoteAddr string

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded connection. rw may carry bytes the upgrade already buffered.
func NewConn(conn net.Conn, rw *bufio.ReadWriter, remoteAddr string, cfg Config) *Conn {
	var src io.Reader = conn
	if rw != nil && rw.Reader.Buffered() > 0 {
		src = rw.Reader
	}
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &Conn{conn: conn, src: src, cfg: cfg, remoteAddr: remoteAddr}
}

// RemoteAddr returns the remote address for logging.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// SendText implements bridge.ClientSink.
func (c *Conn) SendText(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.armWrite()
	return wsutil.WriteServerText(c.conn, []byte(msg))
}

// Close implements bridge.ClientSink. It sends a close frame and closes the
// connection; later calls do nothing.
func (c *Conn) Close(code bridge.CloseCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	c.armWrite()
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	werr := ws.WriteFrame(c.conn, frame)
	cerr := c.conn.Close()
	if werr != nil {
		return errors.Wrap(werr, "write close frame")
	}
	return cerr
}

func (c *Conn) armWrite() {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// markClosed closes the socket after the peer's close frame was answered.
func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.conn.Close()
	}
}

// Write lets control frame replies share the lock with SendText.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.armWrite()
	return c.conn.Write(p)
}

// Serve reads frames until the connection ends and reports every message and
// the final outcome to h. It returns the read error that ended the loop, or
// nil after a close handshake or a local Close.
func (c *Conn) Serve(h bridge.ClientHandler) error {
	control := wsutil.ControlFrameHandler(c, ws.StateServerSide)
	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   c.cfg.MaxMessageSize,
		OnIntermediate: control,
	}

	for {
		if c.cfg.IdleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}
		hdr, err := rd.NextFrame()
		if err != nil {
			return c.fail(h, err)
		}

		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				var closed wsutil.ClosedError
				if errors.As(err, &closed) {
					c.markClosed()
					h.OnClose(bridge.CloseCode(closed.Code), closed.Reason)
					return nil
				}
				return c.fail(h, err)
			}
			continue
		}

		switch hdr.OpCode {
		case ws.OpText:
			msg, err := c.readMessage(rd)
			if err != nil {
				return c.fail(h, err)
			}
			h.OnText(string(msg))
		case ws.OpBinary:
			msg, err := c.readMessage(rd)
			if err != nil {
				return c.fail(h, err)
			}
			h.OnBinary(msg)
		default:
			if err := rd.Discard(); err != nil {
				return c.fail(h, err)
			}
		}
	}
}

func (c *Conn) readMessage(rd *wsutil.Reader) ([]byte, error) {
	if c.cfg.MaxMessageSize <= 0 {
		return io.ReadAll(rd)
	}
	msg, err := io.ReadAll(io.LimitReader(rd, c.cfg.MaxMessageSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(msg)) > c.cfg.MaxMessageSize {
		return nil, bridge.ErrMessageTooBig
	}
	return msg, nil
}

func (c *Conn) fail(h bridge.ClientHandler, err error) error {
	if c.isClosed() {
		return nil
	}
	switch {
	case errors.Is(err, wsutil.ErrFrameTooLarge):
		err = bridge.WithKind(bridge.ErrMessageTooBig, err)
	case errors.Is(err, wsutil.ErrInvalidUTF8):
		err = bridge.WithKind(bridge.ErrDecode, err)
	}
	h.OnError(err)
	return err
}
