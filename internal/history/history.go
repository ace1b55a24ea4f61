// Package history publishes the conversation passing through each session as
// JSON records on a watermill topic.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/bridge"
)

// Record directions.
const (
	DirectionUser   = "user"
	DirectionModel  = "model"
	DirectionStatus = "status"
)

// Record is one line of conversation history.
type Record struct {
	SessionID string    `json:"session_id"`
	Direction string    `json:"direction"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"ts"`
}

// DefaultBuffer is the number of records queued before new ones are dropped.
const DefaultBuffer = 1024

// Recorder publishes records from a background goroutine so sessions never
// wait on the broker.
type Recorder struct {
	pub   message.Publisher
	topic string
	now   func() time.Time

	mu     sync.RWMutex
	closed bool
	in     chan Record
	done   chan struct{}
}

// NewRecorder starts a Recorder publishing to topic.
func NewRecorder(pub message.Publisher, topic string, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	r := &Recorder{
		pub:   pub,
		topic: topic,
		now:   time.Now,
		in:    make(chan Record, buffer),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues rec. It reports false when the queue is full or the Recorder is closed.
func (r *Recorder) Record(rec Record) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = r.now()
	}
	select {
	case r.in <- rec:
		return true
	default:
		log.Warn().Str("component", "history").Str("session_id", rec.SessionID).Msg("history queue full, record dropped")
		return false
	}
}

// SessionHooks records both directions of one session plus its final status.
func (r *Recorder) SessionHooks(sessionID string) bridge.Hooks {
	return bridge.Hooks{
		Outbound: func(msg string) {
			r.Record(Record{SessionID: sessionID, Direction: DirectionUser, Payload: msg})
		},
		Inbound: func(msg string) {
			r.Record(Record{SessionID: sessionID, Direction: DirectionModel, Payload: msg})
		},
		Terminated: func(reason bridge.Reason, err error) {
			status := reason.String()
			if err != nil {
				status += ": " + err.Error()
			}
			r.Record(Record{SessionID: sessionID, Direction: DirectionStatus, Payload: status})
		},
	}
}

// Close flushes queued records. The publisher stays open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.in)
	r.mu.Unlock()

	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.in {
		msg, err := Encode(rec)
		if err != nil {
			log.Error().Err(err).Str("component", "history").Msg("encode record")
			continue
		}
		if err := r.pub.Publish(r.topic, msg); err != nil {
			log.Warn().Err(err).Str("component", "history").Str("topic", r.topic).Msg("publish record")
		}
	}
}

// Encode wraps rec in a watermill message.
func Encode(rec Record) (*message.Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("session_id", rec.SessionID)
	msg.Metadata.Set("direction", rec.Direction)
	return msg, nil
}

// Decode reads a record from a watermill message.
func Decode(msg *message.Message) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return Record{}, errors.Wrap(err, "unmarshal record")
	}
	return rec, nil
}

// Tail subscribes to topic and calls fn for every record until ctx ends or fn fails.
// Messages that do not decode are acked and skipped.
func Tail(ctx context.Context, sub message.Subscriber, topic string, fn func(Record) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			rec, err := Decode(msg)
			if err != nil {
				log.Warn().Err(err).Str("component", "history").Str("uuid", msg.UUID).Msg("skipping record")
				msg.Ack()
				continue
			}
			if err := fn(rec); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}
