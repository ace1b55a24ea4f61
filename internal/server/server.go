// Package server exposes the session bridge over HTTP: the WebSocket route
// plus health, status and metrics endpoints.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/omochice/realtime-bridge/internal/backend"
	"github.com/omochice/realtime-bridge/internal/bridge"
	"github.com/omochice/realtime-bridge/internal/config"
	"github.com/omochice/realtime-bridge/internal/history"
	"github.com/omochice/realtime-bridge/internal/metrics"
	"github.com/omochice/realtime-bridge/internal/transport/ws"
)

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts sessions and traffic on m and serves it on the metrics path.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRecorder publishes every session's conversation to r.
func WithRecorder(r *history.Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// Server accepts client WebSockets and bridges each one to a backend call.
type Server struct {
	cfg      *config.Config
	dialer   backend.Dialer
	registry *bridge.Registry
	metrics  *metrics.Metrics
	recorder *history.Recorder

	listener net.Listener
	http     *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	stopOnce sync.Once
}

// New creates a Server. Nothing listens until Start.
func New(cfg *config.Config, dialer backend.Dialer, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		dialer:   dialer,
		registry: bridge.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{Handler: s.Handler()}
	return s
}

// Handler returns the routes served by the Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.Path, ws.NewHandler(ws.Config{
		MaxMessageSize: s.cfg.Server.MaxMessageSize,
		IdleTimeout:    s.cfg.Server.IdleTimeout,
		WriteTimeout:   s.cfg.Server.WriteTimeout,
	}, s.accept))
	if p := s.cfg.Server.HealthPath; p != "" {
		mux.HandleFunc(p, s.handleHealth)
	}
	if p := s.cfg.Server.StatusPath; p != "" {
		mux.HandleFunc(p, s.handleStatus)
	}
	if p := s.cfg.Server.MetricsPath; p != "" && s.metrics != nil {
		mux.Handle(p, s.metrics.Handler())
	}
	return mux
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return errors.Wrap(err, "failed to start server")
	}
	s.listener = listener
	close(s.ready)

	log.Info().
		Str("component", "server").
		Str("addr", listener.Addr().String()).
		Str("path", s.cfg.Server.Path).
		Msg("server started")

	if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *bridge.Registry {
	return s.registry
}

// Stop stops accepting connections, closes every live session with 1001 and
// waits for their backend calls to be released or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if herr := s.http.Shutdown(ctx); herr != nil {
			err = errors.Wrap(herr, "shutdown http")
		}
		if serr := s.registry.Shutdown(ctx); serr != nil && err == nil {
			err = errors.Wrap(serr, "shutdown sessions")
		}
		s.cancel()
	})
	return err
}

func (s *Server) accept(r *http.Request, c *ws.Conn) {
	id := uuid.NewString()
	logger := log.With().Str("component", "server").Str("session_id", id).Str("remote", c.RemoteAddr()).Logger()

	var hooks bridge.Hooks
	if s.metrics != nil {
		hooks = hooks.Merge(s.metrics.SessionHooks())
	}
	if s.recorder != nil {
		hooks = hooks.Merge(s.recorder.SessionHooks(id))
	}

	sess := bridge.NewSession(s.ctx, c, s.dialer, bridge.Options{
		ID:           id,
		ModelID:      s.cfg.Backend.ModelID,
		Retention:    s.cfg.Bridge.Retention,
		DrainTimeout: s.cfg.Bridge.DrainTimeout,
		Hooks:        hooks,
	})
	s.registry.Register(sess)
	defer s.registry.Unregister(sess)

	logger.Info().Str("user_agent", r.UserAgent()).Msg("client connected")
	if err := c.Serve(sess); err != nil {
		logger.Debug().Err(err).Msg("read loop ended")
	}
	<-sess.Done()
	logger.Info().Str("reason", sess.Reason().String()).AnErr("cause", sess.Err()).Msg("client disconnected")
}
