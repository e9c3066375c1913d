package api

import (
	"net/http"

	"evm-public-client/internal/evm"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := s.client.GetTransaction(r.Context(), evm.GetTransactionParams{Hash: &hash})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, tx, map[string]interface{}{"pending": tx.Pending()}, nil)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := s.client.GetTransactionReceipt(r.Context(), hash)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, receipt, nil, nil)
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	hash, err := parseHash(mux.Vars(r)["hash"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.client.GetTransactionConfirmations(r.Context(), hash)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"hash": hash.Hex(), "confirmations": n}, nil, nil)
}
