package status

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadmify/agent/internal/campaign"
	"github.com/leadmify/agent/internal/controlplane"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatusResponse is the response for GET /status
type StatusResponse struct {
	Version         string               `json:"version"`
	Uptime          string               `json:"uptime"`
	ActiveCampaigns int                  `json:"active_campaigns"`
	LeasesHeld      int                  `json:"leases_held"`
	OpenSessions    int                  `json:"open_sessions"`
	ControlPlane    *controlplane.Health `json:"control_plane,omitempty"`
}

// LeasesResponse is the response for GET /leases
type LeasesResponse struct {
	Leases   []string `json:"leases"`
	Sessions []string `json:"sessions"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  s.uptime(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:         s.deps.Version,
		Uptime:          s.uptime(),
		ActiveCampaigns: s.deps.Registry.Len(),
		LeasesHeld:      s.deps.Leases.Len(),
		OpenSessions:    len(s.deps.Sessions.Paths()),
	}
	if s.deps.Health != nil {
		h := s.deps.Health()
		resp.ControlPlane = &h
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	snaps := s.deps.Registry.Snapshots()
	if snaps == nil {
		snaps = []campaign.Snapshot{}
	}
	s.sendJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id := controlplane.ID(chi.URLParam(r, "id"))
	state, ok := s.deps.Registry.Get(id)
	if !ok {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	s.sendJSON(w, http.StatusOK, state.Snapshot())
}

func (s *Server) handleLeases(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, LeasesResponse{
		Leases:   s.deps.Leases.Snapshot(),
		Sessions: s.deps.Sessions.Paths(),
	})
}

func (s *Server) uptime() string {
	return time.Since(s.startTime).Round(time.Second).String()
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
