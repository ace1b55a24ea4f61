package bridge_test

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/omochice/realtime-bridge/internal/bridge"
)

func TestCloseCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bridge.CloseCode
	}{
		{"graceful", nil, bridge.CloseNormal},
		{"binary", bridge.ErrUnsupportedFrame, bridge.CloseUnsupportedData},
		{"decode", bridge.WithKind(bridge.ErrDecode, errors.New("bad byte")), bridge.CloseInvalidPayload},
		{"too big", errors.Wrap(bridge.ErrMessageTooBig, "read frame"), bridge.CloseMessageTooBig},
		{"shutdown", bridge.ErrShutdown, bridge.CloseGoingAway},
		{"backend", bridge.WithKind(bridge.ErrBackendStream, errors.New("throttled")), bridge.CloseInternalError},
		{"unclassified", errors.New("???"), bridge.CloseInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := bridge.CloseCodeFor(tt.err)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestCloseCodeFor_TruncatesReason(t *testing.T) {
	_, reason := bridge.CloseCodeFor(errors.New(strings.Repeat("x", 500)))
	assert.Len(t, reason, 123)
}

func TestWithKind(t *testing.T) {
	cause := errors.New("reset")
	err := bridge.WithKind(bridge.ErrClientTransport, cause)

	assert.ErrorIs(t, err, bridge.ErrClientTransport)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Cause(err))
	assert.Equal(t, "client transport failed: reset", err.Error())

	assert.Equal(t, bridge.ErrDecode, bridge.WithKind(bridge.ErrDecode, nil))
	assert.Same(t, err, bridge.WithKind(bridge.ErrClientTransport, err))
}
