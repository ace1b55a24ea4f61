// Package client is a WebSocket client for the bridge. It sends text frames
// and delivers every text frame the server returns.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Send before Connect or after Disconnect.
var ErrNotConnected = errors.New("not connected to server")

// CloseStatus is the close frame received from the server.
type CloseStatus struct {
	Code   int
	Reason string
}

// Client is a WebSocket client for one bridge session.
type Client struct {
	address string

	mu       sync.RWMutex
	writeMu  sync.Mutex
	conn     *websocket.Conn
	status   *CloseStatus
	messages chan string
	done     chan struct{}
	doneOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Client for address, e.g. ws://localhost:8081/interact-s2s.
func New(address string) *Client {
	return &Client{
		address:  address,
		messages: make(chan string, 16),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

// Connect dials the server and starts receiving.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.address, nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect to server")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receive(conn)
	return nil
}

// IsConnected reports whether the connection is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Send writes one text frame.
func (c *Client) Send(text string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

// Messages delivers received text frames. It is closed when the connection ends.
func (c *Client) Messages() <-chan string {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Status returns the server's close frame, or nil if none was received.
func (c *Client) Status() *CloseStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Disconnect sends a normal close frame, waits up to timeout for the server to
// answer and closes the connection.
func (c *Client) Disconnect(timeout time.Duration) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	c.writeMu.Unlock()
	if err == nil {
		select {
		case <-c.done:
		case <-time.After(timeout):
		}
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stop) })
	_ = conn.Close()
	c.wg.Wait()
}

func (c *Client) receive(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.doneOnce.Do(func() { close(c.done) })
	defer close(c.messages)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.mu.Lock()
				c.status = &CloseStatus{Code: ce.Code, Reason: ce.Text}
				c.mu.Unlock()
			} else if c.IsConnected() {
				log.Warn().Err(err).Str("component", "client").Msg("read failed")
			}
			return
		}
		if typ != websocket.TextMessage {
			log.Debug().Str("component", "client").Int("type", typ).Msg("ignoring non-text frame")
			continue
		}
		select {
		case c.messages <- string(data):
		case <-c.stop:
			return
		}
	}
}
