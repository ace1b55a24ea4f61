package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// ErrTooManyCalls is returned by a limited Dialer when every slot is taken.
var ErrTooManyCalls = errors.New("backend: too many in-flight calls")

// Limit caps the number of concurrently open calls. A slot is released when
// the call's event stream ends or Close is called. max <= 0 disables the cap.
func Limit(d Dialer, max int) Dialer {
	if max <= 0 {
		return d
	}
	return &limitedDialer{next: d, sem: semaphore.NewWeighted(int64(max))}
}

type limitedDialer struct {
	next Dialer
	sem  *semaphore.Weighted
}

func (l *limitedDialer) Open(ctx context.Context, req OpenRequest) (Call, error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrTooManyCalls
	}
	call, err := l.next.Open(ctx, req)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}

	lc := &limitedCall{Call: call, events: make(chan Event), done: make(chan struct{})}
	lc.release = func() { lc.once.Do(func() { l.sem.Release(1) }) }
	go lc.forward()
	return lc, nil
}

type limitedCall struct {
	Call
	events  chan Event
	done    chan struct{}
	once    sync.Once
	closed  sync.Once
	release func()
}

func (c *limitedCall) forward() {
	defer close(c.events)
	defer c.release()
	for ev := range c.Call.Events() {
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}
}

func (c *limitedCall) Events() <-chan Event {
	return c.events
}

func (c *limitedCall) Close() error {
	err := c.Call.Close()
	c.closed.Do(func() { close(c.done) })
	c.release()
	return err
}
