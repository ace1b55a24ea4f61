package bridge

import (
	"github.com/pkg/errors"
)

var (
	// ErrDecode means an inbound chunk was not valid UTF-8 text.
	ErrDecode = errors.New("inbound chunk is not valid text")

	// ErrBackendStream means the backend call reported a failure.
	ErrBackendStream = errors.New("backend stream failed")

	// ErrClientTransport means the client socket failed.
	ErrClientTransport = errors.New("client transport failed")

	// ErrUnsupportedFrame means the client sent a binary frame.
	ErrUnsupportedFrame = errors.New("binary frames are not supported")

	// ErrMessageTooBig means the client sent a frame above the configured limit.
	ErrMessageTooBig = errors.New("message too big")

	// ErrShutdown means the server is going away.
	ErrShutdown = errors.New("server shutting down")
)

// kindError tags a cause with one of the sentinels above so that errors.Is
// matches both.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Cause lets errors.Cause reach the underlying failure.
func (e *kindError) Cause() error {
	return e.cause
}

// WithKind tags cause with kind. A nil cause yields kind itself.
func WithKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &kindError{kind: kind, cause: cause}
}

// CloseCode is a WebSocket close status code.
type CloseCode uint16

// Close codes used by the bridge.
const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	CloseUnsupportedData CloseCode = 1003
	CloseInvalidPayload  CloseCode = 1007
	CloseMessageTooBig   CloseCode = 1009
	CloseInternalError   CloseCode = 1011
)

// maxCloseReason is the room left for a reason in a close frame.
const maxCloseReason = 123

// CloseCodeFor maps a terminal error to the close code and reason sent to the client.
func CloseCodeFor(err error) (CloseCode, string) {
	if err == nil {
		return CloseNormal, ""
	}
	code := CloseInternalError
	switch {
	case errors.Is(err, ErrUnsupportedFrame):
		code = CloseUnsupportedData
	case errors.Is(err, ErrDecode):
		code = CloseInvalidPayload
	case errors.Is(err, ErrMessageTooBig):
		code = CloseMessageTooBig
	case errors.Is(err, ErrShutdown):
		code = CloseGoingAway
	}
	reason := err.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return code, reason
}
