package api

import (
	"net/http"
	"strings"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

// accountParams reads {address} and ?block=, writing a 400 on failure.
func accountParams(w http.ResponseWriter, r *http.Request) (evm.AddressParams, bool) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return evm.AddressParams{}, false
	}
	block, err := blockQuery(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return evm.AddressParams{}, false
	}
	return evm.AddressParams{Address: addr, Block: block}, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	p, ok := accountParams(w, r)
	if !ok {
		return
	}
	bal, err := s.client.GetBalance(r.Context(), p)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"address": p.Address.Hex(),
		"block":   p.Block.String(),
		"balance": bigString(bal),
	}, nil, nil)
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	p, ok := accountParams(w, r)
	if !ok {
		return
	}
	nonce, err := s.client.GetTransactionCount(r.Context(), p)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"address": p.Address.Hex(),
		"block":   p.Block.String(),
		"nonce":   nonce,
	}, nil, nil)
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	p, ok := accountParams(w, r)
	if !ok {
		return
	}
	code, err := s.client.GetCode(r.Context(), p)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"address": p.Address.Hex(),
		"block":   p.Block.String(),
		"code":    hexutil.Encode(code),
	}, map[string]interface{}{"size": len(code)}, nil)
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	p, ok := accountParams(w, r)
	if !ok {
		return
	}
	slot, err := parseSlot(mux.Vars(r)["slot"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := s.client.GetStorageAt(r.Context(), evm.StorageParams{Address: p.Address, Slot: slot, Block: p.Block})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{
		"address": p.Address.Hex(),
		"block":   p.Block.String(),
		"slot":    slot.Hex(),
		"value":   value.Hex(),
	}, nil, nil)
}

// handleProof serves eth_getProof; ?keys= is a comma separated list of slots.
func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	p, ok := accountParams(w, r)
	if !ok {
		return
	}
	var keys []common.Hash
	if raw := r.URL.Query().Get("keys"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			slot, err := parseSlot(strings.TrimSpace(k))
			if err != nil {
				writeAPIError(w, http.StatusBadRequest, err.Error())
				return
			}
			keys = append(keys, slot)
		}
	}
	proof, err := s.client.GetProof(r.Context(), evm.ProofParams{Address: p.Address, StorageKeys: keys, Block: p.Block})
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, proof, nil, nil)
}
