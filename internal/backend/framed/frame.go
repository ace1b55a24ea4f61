// Package framed carries backend calls over a plain TCP stream so that a
// bridge can reach a backend through a relay process.
//
// Each frame is a varint length followed by a protobuf-encoded message. The
// dialing side sends one OPEN frame, then CHUNK frames and finally CLOSE_SEND.
// The relay answers with METADATA, CHUNK and one terminal ERROR or COMPLETE.
// Closing the socket aborts the call.
package framed

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// DefaultMaxFrameSize bounds a single encoded frame.
const DefaultMaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned by ReadFrame for frames above the limit.
var ErrFrameTooLarge = errors.New("framed: frame too large")

// FrameType represents the type of frame
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeOpen
	FrameTypeChunk
	FrameTypeCloseSend
	FrameTypeMetadata
	FrameTypeError
	FrameTypeComplete
)

// String returns the string representation of FrameType
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeOpen:
		return "OPEN"
	case FrameTypeChunk:
		return "CHUNK"
	case FrameTypeCloseSend:
		return "CLOSE_SEND"
	case FrameTypeMetadata:
		return "METADATA"
	case FrameTypeError:
		return "ERROR"
	case FrameTypeComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Field numbers of the frame message.
const (
	fieldType      protowire.Number = 1
	fieldSessionID protowire.Number = 2
	fieldModelID   protowire.Number = 3
	fieldPayload   protowire.Number = 4
	fieldError     protowire.Number = 5
	fieldRequestID protowire.Number = 6
)

// Frame is one message on the wire. Only the fields matching Type are set.
type Frame struct {
	Type      FrameType
	SessionID string
	ModelID   string
	Payload   []byte
	Error     string
	RequestID string
}

// Encode encodes the frame body.
func (f *Frame) Encode() []byte {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	b = appendString(b, fieldSessionID, f.SessionID)
	b = appendString(b, fieldModelID, f.ModelID)
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	b = appendString(b, fieldError, f.Error)
	b = appendString(b, fieldRequestID, f.RequestID)
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Decode decodes a frame body. Unknown fields are skipped.
func (f *Frame) Decode(data []byte) error {
	*f = Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "failed to decode frame tag")
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "failed to decode frame type")
			}
			f.Type = FrameType(v)
			data = data[n:]
		case typ == protowire.BytesType && num >= fieldSessionID && num <= fieldRequestID:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "failed to decode field %d", num)
			}
			f.setBytes(num, v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Wrapf(protowire.ParseError(n), "failed to skip field %d", num)
			}
			data = data[n:]
		}
	}
	if f.Type <= FrameTypeUnknown || f.Type > FrameTypeComplete {
		return errors.Errorf("framed: unknown frame type %d", int(f.Type))
	}
	return nil
}

func (f *Frame) setBytes(num protowire.Number, v []byte) {
	switch num {
	case fieldSessionID:
		f.SessionID = string(v)
	case fieldModelID:
		f.ModelID = string(v)
	case fieldPayload:
		f.Payload = append([]byte(nil), v...)
	case fieldError:
		f.Error = string(v)
	case fieldRequestID:
		f.RequestID = string(v)
	}
}

// WriteFrame writes f with its length prefix.
func WriteFrame(w io.Writer, f *Frame) error {
	body := f.Encode()
	buf := make([]byte, 0, binary.MaxVarintLen64+len(body))
	buf = binary.AppendUvarint(buf, uint64(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. maxSize <= 0 uses DefaultMaxFrameSize.
func ReadFrame(r *bufio.Reader, maxSize int) (*Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > uint64(maxSize) {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "failed to read frame body")
	}
	f := &Frame{}
	if err := f.Decode(body); err != nil {
		return nil, err
	}
	return f, nil
}
