// Package bridge pairs one client connection with one backend call.
//
// A Session starts in AwaitingInit. The first client message wins a CAS into
// Active, seeds the outbound publisher and opens the backend call; every later
// message is enqueued behind it. Whichever side ends first moves the session to
// Terminated exactly once, closing the publisher and the client together.
package bridge

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/observer"
	"github.com/omochice/realtime-bridge/internal/publisher"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateAwaitingInit State = iota
	StateActive
	StateTerminated
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateAwaitingInit:
		return "awaiting_init"
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Reason tells how a terminated Session ended.
type Reason int32

const (
	ReasonNone Reason = iota
	ReasonCompleted
	ReasonErrored
)

// String returns the string representation of Reason
func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonErrored:
		return "errored"
	default:
		return "none"
	}
}

// DefaultDrainTimeout bounds how long the backend may keep answering after the client left.
const DefaultDrainTimeout = 5 * time.Second

// Hooks observe traffic and lifecycle. Nil fields are skipped.
type Hooks struct {
	// Outbound sees every client message accepted for the backend.
	Outbound func(msg string)
	// Inbound sees every backend message forwarded to the client.
	Inbound func(msg string)
	// Dropped is told how many outbound messages expired unsent.
	Dropped func(n int)
	// Terminated runs once with the final reason.
	Terminated func(reason Reason, err error)
}

// Merge returns hooks that run h first, then o.
func (h Hooks) Merge(o Hooks) Hooks {
	return Hooks{
		Outbound:   chain(h.Outbound, o.Outbound),
		Inbound:    chain(h.Inbound, o.Inbound),
		Dropped:    chain(h.Dropped, o.Dropped),
		Terminated: chain2(h.Terminated, o.Terminated),
	}
}

func chain[T any](a, b func(T)) func(T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

// Options configures a Session.
type Options struct {
	ID           string
	ModelID      string
	Retention    time.Duration
	DrainTimeout time.Duration
	Hooks        Hooks
}

// Session bridges one client connection to one backend call.
type Session struct {
	id     string
	opts   Options
	dialer backend.Dialer
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	reason atomic.Int32
	errMu  sync.Mutex
	err    error

	pub    *publisher.Publisher[[]byte]
	input  observer.Observer[string]
	output observer.Observer[string]

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

// NewSession creates a Session in AwaitingInit. No backend call is opened until
// the first text message arrives.
func NewSession(ctx context.Context, sink ClientSink, dialer backend.Dialer, opts Options) *Session {
	if opts.Retention <= 0 {
		opts.Retention = publisher.DefaultRetention
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	s := &Session{
		id:     opts.ID,
		opts:   opts,
		dialer: dialer,
		log:    log.With().Str("component", "bridge").Str("session_id", opts.ID).Logger(),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	pubOpts := []publisher.Option{publisher.WithRetention(opts.Retention)}
	if opts.Hooks.Dropped != nil {
		pubOpts = append(pubOpts, publisher.WithDropHook(opts.Hooks.Dropped))
	}
	s.pub = publisher.New[[]byte](pubOpts...)

	var input observer.Observer[string] = NewPublisherObserver(s.pub)
	if opts.Hooks.Outbound != nil {
		input = observer.Tap(input, opts.Hooks.Outbound)
	}
	s.input = observer.Guard(input)

	output := NewClientObserver(sink, func(err error) {
		// The write failed inside the output guard; terminating takes the same guard.
		go s.terminate(ReasonErrored, WithKind(ErrClientTransport, err))
	})
	if opts.Hooks.Inbound != nil {
		output = observer.Tap(output, opts.Hooks.Inbound)
	}
	s.output = observer.Guard(output)

	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Reason returns how the session ended, or ReasonNone while it is live.
func (s *Session) Reason() Reason {
	return Reason(s.reason.Load())
}

// Err returns the terminal error, nil for a graceful end or a live session.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Backlog returns the number of client messages not yet taken by the backend pump.
func (s *Session) Backlog() int {
	return s.pub.Len()
}

// Done is closed once the backend call is released, or right away when the
// session terminated before a call was opened.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// OnText handles one client text message.
func (s *Session) OnText(msg string) {
	if s.state.CompareAndSwap(int32(StateAwaitingInit), int32(StateActive)) {
		s.input.OnNext(msg)
		s.readyOnce.Do(func() { close(s.ready) })
		go s.run()
		return
	}

	<-s.ready
	if s.State() == StateTerminated {
		s.log.Debug().Msg("message after termination dropped")
		return
	}
	s.input.OnNext(msg)
}

// OnBinary rejects binary frames; they end the session.
func (s *Session) OnBinary(_ []byte) {
	s.terminate(ReasonErrored, ErrUnsupportedFrame)
}

// OnClose handles a close frame from the client. The backend keeps draining
// for the drain timeout.
func (s *Session) OnClose(code CloseCode, reason string) {
	s.log.Debug().Uint16("code", uint16(code)).Str("reason", reason).Msg("client closed")
	s.terminate(ReasonCompleted, nil)
}

// OnError handles a client transport failure.
func (s *Session) OnError(err error) {
	s.terminate(ReasonErrored, WithKind(ErrClientTransport, err))
}

// Abort ends the session with err, used on server shutdown.
func (s *Session) Abort(err error) {
	s.terminate(ReasonErrored, err)
}

// terminate performs the single terminal transition and reports whether this call won.
func (s *Session) terminate(reason Reason, err error) bool {
	var prev State
	for {
		prev = s.State()
		if prev == StateTerminated {
			return false
		}
		if s.state.CompareAndSwap(int32(prev), int32(StateTerminated)) {
			break
		}
	}

	s.reason.Store(int32(reason))
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	if reason == ReasonErrored {
		s.log.Warn().Err(err).Str("from", prev.String()).Msg("session failed")
		s.input.OnError(err)
		s.output.OnError(err)
		s.cancel()
	} else {
		s.log.Info().Str("from", prev.String()).Msg("session completed")
		s.input.OnComplete()
		s.output.OnComplete()
		time.AfterFunc(s.opts.DrainTimeout, s.cancel)
	}

	if prev == StateAwaitingInit {
		// No call was ever opened and none can be now.
		s.finish()
	}
	if s.opts.Hooks.Terminated != nil {
		s.opts.Hooks.Terminated(reason, err)
	}
	return true
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		s.cancel()
		close(s.done)
	})
}

func (s *Session) run() {
	defer s.finish()

	if s.State() == StateTerminated {
		s.log.Debug().Msg("terminated before the backend call was opened")
		return
	}
	call, err := s.dialer.Open(s.ctx, backend.OpenRequest{SessionID: s.id, ModelID: s.opts.ModelID})
	if err != nil {
		s.terminate(ReasonErrored, WithKind(ErrBackendStream, errors.Wrap(err, "open backend call")))
		return
	}
	defer func() {
		if err := call.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close backend call")
		}
	}()
	if s.ctx.Err() != nil {
		// Aborted while the call was opening.
		return
	}

	sub, err := s.pub.Subscribe()
	if err != nil {
		s.terminate(ReasonErrored, errors.Wrap(err, "subscribe outbound"))
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpOutbound(sub, call)
	}()
	go func() {
		defer wg.Done()
		s.pumpInbound(call)
	}()
	wg.Wait()
}

func (s *Session) pumpOutbound(sub *publisher.Subscription[[]byte], call backend.Call) {
	for {
		chunk, err := sub.Next(s.ctx)
		if err == io.EOF {
			if err := call.CloseSend(); err != nil {
				s.terminate(ReasonErrored, WithKind(ErrBackendStream, errors.Wrap(err, "half-close backend call")))
				_ = call.Close()
			}
			return
		}
		if err != nil {
			s.log.Debug().Err(err).Msg("outbound stream aborted")
			_ = call.Close()
			return
		}
		if err := call.Send(s.ctx, chunk); err != nil {
			s.terminate(ReasonErrored, WithKind(ErrBackendStream, errors.Wrap(err, "send to backend")))
			_ = call.Close()
			return
		}
	}
}

func (s *Session) pumpInbound(call backend.Call) {
	sink := observer.Funcs[string]{
		Next:     s.output.OnNext,
		Error:    func(err error) { s.terminate(ReasonErrored, err) },
		Complete: func() { s.terminate(ReasonCompleted, nil) },
	}
	NewDemux(sink).WithLogger(s.log).Run(s.ctx, call.Events())
}
