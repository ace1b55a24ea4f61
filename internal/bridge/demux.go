package bridge

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/observer"
)

// Demux routes inbound backend events to a text observer.
type Demux struct {
	mu       sync.Mutex
	delegate observer.Observer[string]
	finished bool
	log      zerolog.Logger
}

// NewDemux creates a Demux that forwards decoded chunks to delegate.
func NewDemux(delegate observer.Observer[string]) *Demux {
	return &Demux{
		delegate: delegate,
		log:      log.With().Str("component", "demux").Logger(),
	}
}

// WithLogger replaces the logger used for metadata and dropped events.
func (d *Demux) WithLogger(l zerolog.Logger) *Demux {
	d.log = l
	return d
}

// Handle processes one event and reports whether the inbound direction is finished.
func (d *Demux) Handle(ev backend.Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.finished {
		d.log.Debug().Stringer("kind", ev.Kind).Msg("event after terminal dropped")
		return true
	}

	switch ev.Kind {
	case backend.KindMetadata:
		d.log.Info().Str("request_id", ev.RequestID).Msg("backend call accepted")
	case backend.KindChunk:
		if err := d.deliver(ev.Payload); err != nil {
			d.finished = true
			d.delegate.OnError(err)
		}
	case backend.KindError:
		d.finished = true
		d.delegate.OnError(WithKind(ErrBackendStream, ev.Err))
	case backend.KindComplete:
		d.finished = true
		d.delegate.OnComplete()
	default:
		d.finished = true
		d.delegate.OnError(WithKind(ErrDecode, errors.Errorf("unknown event kind %s", ev.Kind)))
	}
	return d.finished
}

func (d *Demux) deliver(payload []byte) (err error) {
	if !utf8.Valid(payload) {
		return ErrDecode
	}
	defer func() {
		if r := recover(); r != nil {
			err = WithKind(ErrDecode, errors.Errorf("handling chunk: %v", r))
		}
	}()
	d.delegate.OnNext(string(payload))
	return nil
}

// Run consumes events until a terminal event, the channel closing or ctx ending.
// A channel that closes without a terminal event counts as completion.
func (d *Demux) Run(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				d.Handle(backend.Completed())
				return
			}
			if d.Handle(ev) {
				return
			}
		case <-ctx.Done():
			d.Handle(backend.Failed(errors.Wrap(ctx.Err(), "inbound stream")))
			return
		}
	}
}
