package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"evm-public-client/internal/evm"

	"github.com/gorilla/mux"
)

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	ch := s.client.Chain()
	id, err := s.client.GetChainID(r.Context())
	if err != nil {
		writeClientError(w, err)
		return
	}
	meta := map[string]interface{}{}
	if id != ch.ID {
		meta["warning"] = "node chain id differs from configured chain"
	}
	writeAPIResponse(w, map[string]interface{}{
		"configured":   ch,
		"node_chainId": id,
	}, meta, nil)
}

func (s *Server) handleBlockNumber(w http.ResponseWriter, r *http.Request) {
	var params evm.GetBlockNumberParams
	if v := r.URL.Query().Get("cache_time_ms"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			writeAPIError(w, http.StatusBadRequest, "invalid cache_time_ms")
			return
		}
		d := time.Duration(ms) * time.Millisecond
		params.CacheTime = &d
	}
	n, err := s.client.GetBlockNumber(r.Context(), params)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"block_number": n}, nil, nil)
}

// handleGetBlock caches blocks addressed by hash; numbers and tags can be reorged.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if strings.HasPrefix(id, "0x") && len(id) == 66 {
		s.cachedHandler(immutableTTL, s.getBlock)(w, r)
		return
	}
	s.getBlock(w, r)
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	sel, err := evm.ParseBlockSelector(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	full := r.URL.Query().Get("include_transactions")
	block, err := s.client.GetBlock(r.Context(), evm.GetBlockParams{
		Block:               sel,
		IncludeTransactions: full == "1" || full == "true",
	})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, block, nil, nil)
}

func (s *Server) handleBlockTransactionCount(w http.ResponseWriter, r *http.Request) {
	sel, err := evm.ParseBlockSelector(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	count, err := s.client.GetBlockTransactionCount(r.Context(), sel)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"block": sel.String(), "transaction_count": count}, nil, nil)
}
