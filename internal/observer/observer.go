// Package observer defines the sink abstraction shared by both directions of a session.
package observer

import (
	"sync"
	"sync/atomic"
)

// Observer receives zero or more values followed by at most one terminal signal.
// Implementations must treat a second terminal call as a no-op.
type Observer[T any] interface {
	// OnNext delivers one value.
	OnNext(v T)

	// OnError ends the stream abnormally.
	OnError(err error)

	// OnComplete ends the stream gracefully.
	OnComplete()
}

// Funcs adapts plain callbacks to Observer. Nil callbacks are skipped.
type Funcs[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// OnNext implements Observer.
func (f Funcs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

// OnError implements Observer.
func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// OnComplete implements Observer.
func (f Funcs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// guarded enforces the terminal contract on top of an arbitrary Observer.
type guarded[T any] struct {
	mu       sync.Mutex
	done     atomic.Bool
	delegate Observer[T]
}

// Guard wraps o so that calls are serialized and everything after the first
// terminal call is dropped. Exactly one terminal call reaches o.
func Guard[T any](o Observer[T]) Observer[T] {
	if g, ok := o.(*guarded[T]); ok {
		return g
	}
	return &guarded[T]{delegate: o}
}

func (g *guarded[T]) OnNext(v T) {
	if g.done.Load() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return
	}
	g.delegate.OnNext(v)
}

func (g *guarded[T]) OnError(err error) {
	if !g.done.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delegate.OnError(err)
}

func (g *guarded[T]) OnComplete() {
	if !g.done.CompareAndSwap(false, true) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delegate.OnComplete()
}

// Terminated reports whether o is a guard that already saw a terminal call.
// Observers that are not guards always report false.
func Terminated[T any](o Observer[T]) bool {
	g, ok := o.(*guarded[T])
	return ok && g.done.Load()
}

// Tap returns an Observer that calls fn with every value before forwarding it to o.
func Tap[T any](o Observer[T], fn func(T)) Observer[T] {
	return Funcs[T]{
		Next: func(v T) {
			fn(v)
			o.OnNext(v)
		},
		Error:    o.OnError,
		Complete: o.OnComplete,
	}
}
