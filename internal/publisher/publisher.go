// Package publisher provides a time-bounded, ordered buffer between a local
// producer and exactly one remote consumer.
//
// Producers never block: Enqueue appends and returns. Memory is bounded by a
// retention window instead of by backpressure, so an item that waits longer
// than the window without being consumed is dropped. The buffer is soft, not a
// durable log.
package publisher

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultRetention matches the idle timeout of the upstream call.
const DefaultRetention = time.Minute

var (
	// ErrClosed is returned by Enqueue after Error or Complete.
	ErrClosed = errors.New("publisher closed")

	// ErrAlreadySubscribed is returned by the second call to Subscribe.
	ErrAlreadySubscribed = errors.New("publisher already has a subscriber")
)

type item[T any] struct {
	value T
	at    time.Time
}

// Publisher buffers values for a single subscriber.
type Publisher[T any] struct {
	retention time.Duration
	now       func() time.Time
	onDrop    func(n int)

	mu         sync.Mutex
	items      []item[T]
	closed     bool
	err        error
	subscribed bool
	notify     chan struct{}
}

// Option configures a Publisher.
type Option func(*options)

type options struct {
	retention time.Duration
	now       func() time.Time
	onDrop    func(n int)
}

// WithRetention sets how long an unconsumed item is kept. Zero or negative keeps items forever.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDropHook registers fn to be told how many expired items were dropped.
func WithDropHook(fn func(n int)) Option {
	return func(o *options) { o.onDrop = fn }
}

// New creates an open Publisher.
func New[T any](opts ...Option) *Publisher[T] {
	o := options{retention: DefaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Publisher[T]{
		retention: o.retention,
		now:       o.now,
		onDrop:    o.onDrop,
		notify:    make(chan struct{}, 1),
	}
}

// Enqueue appends v stamped with the current time.
func (p *Publisher[T]) Enqueue(v T) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	now := p.now()
	dropped := p.pruneLocked(now)
	p.items = append(p.items, item[T]{value: v, at: now})
	p.mu.Unlock()

	p.reportDrops(dropped)
	p.wake()
	return nil
}

// Error closes the publisher; the subscriber receives err once it drained the live items.
func (p *Publisher[T]) Error(err error) {
	if err == nil {
		err = errors.New("publisher: closed with nil error")
	}
	p.close(err)
}

// Complete closes the publisher gracefully; the subscriber receives io.EOF once drained.
func (p *Publisher[T]) Complete() {
	p.close(nil)
}

func (p *Publisher[T]) close(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.err = err
	p.mu.Unlock()
	p.wake()
}

// Len returns the number of buffered items, expired ones included until the next prune.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Subscribe attaches the single consumer.
func (p *Publisher[T]) Subscribe() (*Subscription[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed {
		return nil, ErrAlreadySubscribed
	}
	p.subscribed = true
	return &Subscription[T]{p: p}, nil
}

func (p *Publisher[T]) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// pruneLocked drops the expired prefix. Items are stamped in enqueue order, so
// anything expired sits at the head.
func (p *Publisher[T]) pruneLocked(now time.Time) int {
	if p.retention <= 0 {
		return 0
	}
	n := 0
	for n < len(p.items) && now.Sub(p.items[n].at) > p.retention {
		n++
	}
	if n == 0 {
		return 0
	}
	clear(p.items[:n])
	p.items = p.items[n:]
	return n
}

func (p *Publisher[T]) reportDrops(n int) {
	if n > 0 && p.onDrop != nil {
		p.onDrop(n)
	}
}

// Subscription is the consumer side of a Publisher.
type Subscription[T any] struct {
	p *Publisher[T]
}

// Next returns the next live item in enqueue order. Once the publisher is
// closed and drained it returns io.EOF after Complete or the error given to
// Error. Only the calling goroutine waits; producers are never blocked.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	p := s.p
	for {
		p.mu.Lock()
		dropped := p.pruneLocked(p.now())
		if len(p.items) > 0 {
			it := p.items[0]
			p.items[0] = item[T]{}
			p.items = p.items[1:]
			p.mu.Unlock()
			p.reportDrops(dropped)
			return it.value, nil
		}
		closed, err := p.closed, p.err
		p.mu.Unlock()
		p.reportDrops(dropped)

		if closed {
			if err == nil {
				return zero, io.EOF
			}
			return zero, err
		}

		select {
		case <-p.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
