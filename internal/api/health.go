package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// healthResponse reports whether the service can accept runs.
type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	ActiveRuns  int    `json:"active_runs"`
	Evaluators  int    `json:"evaluators"`
	SearchSpace int    `json:"search_space_algorithms"`
}

// handleHealthz answers 200 when the store is reachable and 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Store:       "ok",
		ActiveRuns:  s.engine.ActiveRuns(),
		Evaluators:  len(s.engine.Registry().List()),
		SearchSpace: len(s.engine.Space().Names()),
	}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check store ping", "error", err)
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}
