package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Status is the body served on the status path.
type Status struct {
	Backend        string `json:"backend"`
	ModelID        string `json:"model_id"`
	ActiveSessions int    `json:"active_sessions"`
	TotalSessions  uint64 `json:"total_sessions"`

	// OutboundBacklog counts client messages not yet handed to a backend call.
	OutboundBacklog int `json:"outbound_backlog"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, Status{
		Backend:         s.cfg.Backend.Kind,
		ModelID:         s.cfg.Backend.ModelID,
		ActiveSessions:  s.registry.Count(),
		TotalSessions:   s.registry.Total(),
		OutboundBacklog: s.registry.Backlog(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Str("component", "server").Msg("write response")
	}
}
