// Package backend describes the duplex call to the inference service.
//
// A Dialer opens one Call per session. The outbound side takes raw chunks and
// can be half-closed gracefully or aborted; the inbound side is a channel of
// Events closed after the terminal event.
package backend

import (
	"context"
	"fmt"
)

// Kind tags an inbound Event.
type Kind int

const (
	// KindMetadata carries handshake information such as the request id.
	KindMetadata Kind = iota
	// KindChunk carries one payload chunk.
	KindChunk
	// KindError reports a stream-level failure. Terminal.
	KindError
	// KindComplete reports graceful end of stream. Terminal.
	KindComplete
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "METADATA"
	case KindChunk:
		return "CHUNK"
	case KindError:
		return "ERROR"
	case KindComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Event is one inbound event. Only the field matching Kind is meaningful.
type Event struct {
	Kind      Kind
	RequestID string
	Payload   []byte
	Err       error
}

// Terminal reports whether the event ends the inbound stream.
func (e Event) Terminal() bool {
	return e.Kind == KindError || e.Kind == KindComplete
}

// Metadata builds a metadata event.
func Metadata(requestID string) Event {
	return Event{Kind: KindMetadata, RequestID: requestID}
}

// Chunk builds a payload event.
func Chunk(p []byte) Event {
	return Event{Kind: KindChunk, Payload: p}
}

// Failed builds a stream error event.
func Failed(err error) Event {
	return Event{Kind: KindError, Err: err}
}

// Completed builds a completion event.
func Completed() Event {
	return Event{Kind: KindComplete}
}

// OpenRequest carries the per-call settings.
type OpenRequest struct {
	SessionID string
	ModelID   string
}

// Call is one open duplex call.
type Call interface {
	// Send writes one outbound chunk.
	Send(ctx context.Context, chunk []byte) error

	// CloseSend half-closes the outbound side; inbound events keep flowing.
	CloseSend() error

	// Close aborts the call in both directions.
	Close() error

	// Events delivers inbound events in order and is closed after the terminal one.
	Events() <-chan Event
}

// Dialer opens duplex calls.
type Dialer interface {
	Open(ctx context.Context, req OpenRequest) (Call, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, req OpenRequest) (Call, error)

// Open implements Dialer.
func (f DialerFunc) Open(ctx context.Context, req OpenRequest) (Call, error) {
	return f(ctx, req)
}
