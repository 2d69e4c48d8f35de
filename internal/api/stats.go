package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total             int            `json:"total"`
	ByStatus          map[string]int `json:"by_status"`
	ByEvaluator       map[string]int `json:"by_evaluator"`
	AvgDurationMS     float64        `json:"avg_duration_ms"`
	TotalEvaluations  int            `json:"total_evaluations"`
	ExceededLimitRate float64        `json:"exceeded_limit_rate"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:             stats.Total,
		ByStatus:          stats.CountByStatus,
		ByEvaluator:       stats.CountByEvaluator,
		AvgDurationMS:     stats.AvgDurationMS,
		TotalEvaluations:  stats.TotalEvaluations,
		ExceededLimitRate: stats.ExceededLimitRate,
	})
}
