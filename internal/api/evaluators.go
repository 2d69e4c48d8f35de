package api

import "net/http"

func (s *Server) handleListEvaluators(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Registry().List())
}
