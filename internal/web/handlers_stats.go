package web

import (
	"net/http"

	"github.com/JonMunkholm/fisler/internal/core"
)

type statsResponse struct {
	Success bool             `json:"success"`
	Data    core.StatsReport `json:"data"`
}

type healthResponse struct {
	Success bool                     `json:"success"`
	Data    core.Health              `json:"data"`
	Uploads core.UploadLimiterStatus `json:"uploads"`
	Error   string                   `json:"error,omitempty"`
	Details string                   `json:"details,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.Stats(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statsResponse{Success: true, Data: report})
}

// handleHealth pings the store. It answers 503 rather than the usual error
// envelope so load balancers can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.service.Health(r.Context())
	resp := healthResponse{Success: err == nil, Data: h, Uploads: s.limiter.Status()}
	if err != nil {
		env := errorEnvelope(err)
		resp.Error, resp.Details = env.Error, env.Details
		writeJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}
