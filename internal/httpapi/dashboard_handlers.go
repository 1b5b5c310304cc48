package httpapi

import (
	"net/http"
	"strconv"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/version"
)

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.opt.Dashboard.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": st})
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, badRequest("Validation Error", "limit must be a positive integer"))
			return
		}
		limit = n
	}
	acts, err := s.opt.Dashboard.RecentActivity(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": acts})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"app":         version.AppName,
		"version":     version.Version,
		"environment": s.opt.Env,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":           version.AppName,
		"version":       version.Version,
		"description":   version.Description,
		"documentation": "/api/docs",
		"health":        "/health",
	})
}
