package api

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/hourglass/internal/engine"
	"github.com/seantiz/hourglass/internal/evaluator"
	"github.com/seantiz/hourglass/internal/model"
	"github.com/seantiz/hourglass/internal/search"
	"github.com/seantiz/hourglass/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs. Durations are in
// seconds.
type createRunRequest struct {
	Evaluator      string   `json:"evaluator"`
	Algorithms     []string `json:"algorithms"`
	TotalTimeS     *float64 `json:"total_time_s"`
	SearchLimitS   *float64 `json:"search_limit_s"`
	MaxEvaluations *int     `json:"max_evaluations"`
	Seed           *int64   `json:"seed"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func secondsToMS(s *float64) *int64 {
	if s == nil {
		return nil
	}
	ms := int64(*s * 1000)
	return &ms
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run := &model.Run{
		ID:             model.NewID(),
		Status:         model.StatusPending,
		Evaluator:      req.Evaluator,
		Algorithms:     req.Algorithms,
		TotalTimeMS:    secondsToMS(req.TotalTimeS),
		SearchLimitMS:  secondsToMS(req.SearchLimitS),
		MaxEvaluations: req.MaxEvaluations,
		CreatedAt:      time.Now().UTC(),
	}
	if run.Evaluator == "" {
		run.Evaluator = evaluator.DefaultName
	}
	if req.Seed != nil {
		run.Seed = *req.Seed
	} else {
		run.Seed = rand.Int64()
	}

	if err := s.engine.Validate(run); err != nil {
		switch {
		case errors.Is(err, evaluator.ErrNotRegistered),
			errors.Is(err, search.ErrInvalidParams),
			errors.Is(err, search.ErrNoStoppingCriterion):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("validate run", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to validate run")
		}
		return
	}

	if err := s.engine.Submit(r.Context(), run); err != nil {
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

// lookupRun fetches the run named in the URL, writing a 404 or 500 response
// and returning nil when it cannot.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil
	}
	return run
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	if model.IsTerminal(run.Status) {
		s.writeError(w, http.StatusConflict, "run already finished")
		return
	}
	if err := s.engine.Cancel(run.ID); err != nil {
		if errors.Is(err, engine.ErrNotActive) {
			s.writeError(w, http.StatusConflict, "run is not active")
			return
		}
		s.logger.Error("cancel run", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	acts, err := s.store.ListActivities(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("list activities", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list activities")
		return
	}
	if acts == nil {
		acts = []model.ActivityRecord{}
	}
	s.writeJSON(w, http.StatusOK, acts)
}

func (s *Server) handleListEvaluations(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}

	evals, err := s.store.ListEvaluations(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("list evaluations", "run_id", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list evaluations")
		return
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	s.writeJSON(w, http.StatusOK, evals)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
