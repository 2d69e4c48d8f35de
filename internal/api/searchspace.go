package api

import (
	"net/http"

	"github.com/seantiz/hourglass/internal/searchspace"
)

// algorithmSummary is one algorithm of the search space with its number of
// parameter combinations.
type algorithmSummary struct {
	*searchspace.Algorithm
	Size int `json:"size"`
}

func (s *Server) handleGetSearchSpace(w http.ResponseWriter, _ *http.Request) {
	space := s.engine.Space()
	algs := space.Algorithms()

	out := make([]algorithmSummary, 0, len(algs))
	for _, a := range algs {
		size, err := space.Size(a.Name)
		if err != nil {
			s.logger.Error("size search space", "algorithm", a.Name, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to describe search space")
			return
		}
		out = append(out, algorithmSummary{Algorithm: a, Size: size})
	}

	s.writeJSON(w, http.StatusOK, out)
}
