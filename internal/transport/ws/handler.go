package ws

import (
	"net/http"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog/log"
)

// AcceptFunc serves one upgraded connection and returns when it is done.
type AcceptFunc func(r *http.Request, c *Conn)

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	cfg    Config
	accept AcceptFunc
}

// NewHandler creates a Handler that passes each connection to accept.
func NewHandler(cfg Config, accept AcceptFunc) *Handler {
	return &Handler{cfg: cfg, accept: accept}
}

// ServeHTTP implements http.Handler. It blocks until accept returns.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Warn().Err(err).Str("component", "ws").Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	h.accept(r, NewConn(conn, rw, r.RemoteAddr, h.cfg))
}
