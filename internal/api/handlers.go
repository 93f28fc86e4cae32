package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"letmego-core/internal/core/metrics"
	"letmego-core/internal/health"
	"letmego-core/internal/pairing"
)

// SessionListResponse 会话列表响应
type SessionListResponse struct {
	Sessions []pairing.SessionInfo `json:"sessions"`
	Total    int                   `json:"total"`
}

// StatsResponse 统计响应
type StatsResponse struct {
	ActiveSessions int              `json:"active_sessions"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
	Pairing        pairing.Stats    `json:"pairing"`
	Metrics        metrics.Snapshot `json:"metrics"`
}

// handleHealth 降级仍返回 200，不健康返回 503
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.ComponentStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.svc.CurrentKey()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, key)
}

func (s *Server) handleGenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.svc.GenerateKey()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, key)
}

func (s *Server) handleRegenerateKey(w http.ResponseWriter, r *http.Request) {
	key, err := s.svc.RegenerateKey()
	if err != nil {
		respondError(w, err)
		return
	}
	s.logger.Infof("ManagementAPI: key regenerated (generation %d)", key.Generation)
	respondJSON(w, http.StatusCreated, key)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.svc.ListSessions()
	respondJSON(w, http.StatusOK, SessionListResponse{Sessions: sessions, Total: len(sessions)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.GetSession(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.svc.DisconnectSession(id); err != nil {
		respondError(w, err)
		return
	}
	s.logger.Infof("ManagementAPI: session %s disconnected", id)
	respondJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats()
	respondJSON(w, http.StatusOK, StatsResponse{
		ActiveSessions: stats.Sessions,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		Pairing:        stats,
		Metrics:        s.metrics.Snapshot(),
	})
}
