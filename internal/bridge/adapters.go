package bridge

import (
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/observer"
	"github.com/omochice/realtime-bridge/internal/publisher"
)

// ClientSink is the write side of a client connection.
type ClientSink interface {
	// SendText writes one text message.
	SendText(msg string) error

	// Close sends a close frame with code and reason, then closes the connection.
	Close(code CloseCode, reason string) error
}

// ClientHandler receives the events read from a client connection.
type ClientHandler interface {
	OnText(msg string)
	OnBinary(p []byte)
	OnClose(code CloseCode, reason string)
	OnError(err error)
}

// NewClientObserver writes values to sink. Completion closes the connection
// with CloseNormal and errors close it with the code from CloseCodeFor.
// A failed write is reported to onFail.
func NewClientObserver(sink ClientSink, onFail func(error)) observer.Observer[string] {
	return observer.Funcs[string]{
		Next: func(msg string) {
			if err := sink.SendText(msg); err != nil && onFail != nil {
				onFail(err)
			}
		},
		Error: func(err error) {
			code, reason := CloseCodeFor(err)
			if cerr := sink.Close(code, reason); cerr != nil {
				log.Debug().Err(cerr).Str("component", "bridge").Msg("close client after error")
			}
		},
		Complete: func() {
			if err := sink.Close(CloseNormal, ""); err != nil {
				log.Debug().Err(err).Str("component", "bridge").Msg("close client")
			}
		},
	}
}

// NewPublisherObserver enqueues each message as raw bytes. Terminal calls close pub.
func NewPublisherObserver(pub *publisher.Publisher[[]byte]) observer.Observer[string] {
	return observer.Funcs[string]{
		Next: func(msg string) {
			if err := pub.Enqueue([]byte(msg)); err != nil {
				log.Debug().Err(err).Str("component", "bridge").Msg("outbound message dropped")
			}
		},
		Error:    pub.Error,
		Complete: pub.Complete,
	}
}
