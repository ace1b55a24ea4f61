package framed

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
)

// Server relays framed calls to a backend.Dialer.
type Server struct {
	address      string
	dialer       backend.Dialer
	maxFrameSize int

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a relay listening on address.
func NewServer(address string, dialer backend.Dialer) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		address: address,
		dialer:  dialer,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// WithMaxFrameSize sets the largest frame accepted from a bridge.
func (s *Server) WithMaxFrameSize(n int) *Server {
	s.maxFrameSize = n
	return s
}

// Start accepts connections until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrap(err, "failed to start relay")
	}
	s.listener = listener
	close(s.ready)

	log.Info().Str("component", "relay").Str("addr", listener.Addr().String()).Msg("relay started")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "accept")
		}

		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop closes the listener, aborts every relayed call and waits for them.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	logger := log.With().Str("component", "relay").Str("remote", conn.RemoteAddr().String()).Logger()
	r := bufio.NewReader(conn)

	open, err := ReadFrame(r, s.maxFrameSize)
	if err != nil {
		logger.Debug().Err(err).Msg("no open frame")
		return
	}
	if open.Type != FrameTypeOpen {
		_ = WriteFrame(conn, &Frame{Type: FrameTypeError, Error: "expected OPEN, got " + open.Type.String()})
		return
	}
	logger = logger.With().Str("session_id", open.SessionID).Logger()

	call, err := s.dialer.Open(s.ctx, backend.OpenRequest{SessionID: open.SessionID, ModelID: open.ModelID})
	if err != nil {
		logger.Warn().Err(err).Msg("backend open failed")
		_ = WriteFrame(conn, &Frame{Type: FrameTypeError, Error: err.Error()})
		return
	}
	defer call.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forwardEvents(conn, call, logger)
	}()

	s.forwardFrames(r, call, logger)
	wg.Wait()
}

// forwardFrames feeds bridge frames into the call until CLOSE_SEND or a read error.
func (s *Server) forwardFrames(r *bufio.Reader, call backend.Call, logger zerolog.Logger) {
	for {
		f, err := ReadFrame(r, s.maxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("bridge connection lost")
			}
			_ = call.Close()
			return
		}
		switch f.Type {
		case FrameTypeChunk:
			if err := call.Send(s.ctx, f.Payload); err != nil {
				logger.Warn().Err(err).Msg("send to backend failed")
				_ = call.Close()
				return
			}
		case FrameTypeCloseSend:
			if err := call.CloseSend(); err != nil {
				logger.Warn().Err(err).Msg("half-close failed")
				_ = call.Close()
			}
			return
		default:
			logger.Debug().Stringer("type", f.Type).Msg("unexpected frame from bridge")
		}
	}
}

// forwardEvents writes call events back to the bridge. A stream that ends
// without a terminal event is reported as complete.
func (s *Server) forwardEvents(conn net.Conn, call backend.Call, logger zerolog.Logger) {
	for ev := range call.Events() {
		f := &Frame{}
		switch ev.Kind {
		case backend.KindMetadata:
			f.Type, f.RequestID = FrameTypeMetadata, ev.RequestID
		case backend.KindChunk:
			f.Type, f.Payload = FrameTypeChunk, ev.Payload
		case backend.KindError:
			f.Type = FrameTypeError
			if ev.Err != nil {
				f.Error = ev.Err.Error()
			}
		case backend.KindComplete:
			f.Type = FrameTypeComplete
		default:
			continue
		}
		if err := WriteFrame(conn, f); err != nil {
			logger.Debug().Err(err).Msg("write to bridge failed")
			_ = call.Close()
			return
		}
		if ev.Terminal() {
			return
		}
	}
	_ = WriteFrame(conn, &Frame{Type: FrameTypeComplete})
}
