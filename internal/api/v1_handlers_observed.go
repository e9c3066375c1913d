package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func (s *Server) observedDisabled(w http.ResponseWriter) bool {
	if s.repo == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "observed blocks are not recorded (no database configured)")
		return true
	}
	return false
}

func (s *Server) handleObservedBlocks(w http.ResponseWriter, r *http.Request) {
	if s.observedDisabled(w) {
		return
	}
	limit, _ := parseLimitOffset(r)
	rows, err := s.repo.LatestBlocks(r.Context(), limit)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, rows, map[string]interface{}{"limit": limit, "count": len(rows)}, nil)
}

func (s *Server) handleObservedBlock(w http.ResponseWriter, r *http.Request) {
	if s.observedDisabled(w) {
		return
	}
	number, err := strconv.ParseUint(mux.Vars(r)["number"], 10, 64)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid block number")
		return
	}
	block, err := s.repo.GetObservedBlock(r.Context(), number)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if block == nil {
		writeAPIError(w, http.StatusNotFound, "block not observed")
		return
	}
	logs, err := s.repo.LogsForBlock(r.Context(), number)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeAPIResponse(w, map[string]interface{}{"block": block, "logs": logs}, nil, nil)
}
