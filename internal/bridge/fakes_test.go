package bridge_test

import (
	"context"
	"sync"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/bridge"
)

type closeCall struct {
	code   bridge.CloseCode
	reason string
}

type fakeSink struct {
	mu      sync.Mutex
	texts   []string
	closes  []closeCall
	sendErr error
}

func (s *fakeSink) SendText(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.texts = append(s.texts, msg)
	return nil
}

func (s *fakeSink) Close(code bridge.CloseCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeCall{code: code, reason: reason})
	return nil
}

func (s *fakeSink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSink) Closes() []closeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]closeCall(nil), s.closes...)
}

type fakeCall struct {
	mu        sync.Mutex
	sent      []string
	halfClose bool
	aborted   bool
	events    chan backend.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeCall() *fakeCall {
	return &fakeCall{events: make(chan backend.Event, 16), done: make(chan struct{})}
}

// emit delivers ev unless the call was closed. Events stays open so late
// events from the test never race with Close.
func (c *fakeCall) emit(ev backend.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *fakeCall) Send(_ context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(chunk))
	return nil
}

func (c *fakeCall) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halfClose = true
	return nil
}

func (c *fakeCall) Close() error {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeCall) Events() <-chan backend.Event {
	return c.events
}

func (c *fakeCall) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *fakeCall) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *fakeCall) HalfClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halfClose
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []*fakeCall
	reqs  []backend.OpenRequest
	err   error
	gate  chan struct{} // holds Open until closed, when set
}

func (d *fakeDialer) Open(_ context.Context, req backend.OpenRequest) (backend.Call, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeCall()
	d.calls = append(d.calls, c)
	return c, nil
}

func (d *fakeDialer) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reqs)
}

func (d *fakeDialer) Call(i int) *fakeCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.calls) {
		return nil
	}
	return d.calls[i]
}
