package api

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"evm-public-client/internal/evm"
)

func (s *Server) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.client.GetGasPrice(r.Context())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"gas_price": bigString(price)}, nil, nil)
}

func (s *Server) handleMaxPriorityFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.client.EstimateMaxPriorityFeePerGas(r.Context())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"max_priority_fee_per_gas": bigString(fee)}, nil, nil)
}

// handleEstimateFees accepts ?type=eip1559|legacy and ?multiplier=1.2.
func (s *Server) handleEstimateFees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := evm.EstimateFeesParams{Type: evm.FeeType(strings.ToLower(q.Get("type")))}
	if v := q.Get("multiplier"); v != "" {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid multiplier")
			return
		}
		params.BaseFeeMultiplier = m
	}
	fees, err := s.client.EstimateFeesPerGas(r.Context(), params)
	if err != nil {
		writeClientError(w, err)
		return
	}
	out := map[string]interface{}{"type": fees.Type}
	for k, v := range map[string]*big.Int{
		"gas_price":                fees.GasPrice,
		"max_fee_per_gas":          fees.MaxFeePerGas,
		"max_priority_fee_per_gas": fees.MaxPriorityFeePerGas,
	} {
		if v != nil {
			out[k] = v.String()
		}
	}
	writeAPIResponse(w, out, nil, nil)
}

// handleFeeHistory accepts ?block_count=, ?block= and ?percentiles=25,50,75.
func (s *Server) handleFeeHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := evm.FeeHistoryParams{BlockCount: 4}
	if v := q.Get("block_count"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "invalid block_count")
			return
		}
		params.BlockCount = n
	}
	block, err := blockQuery(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Block = block
	if v := q.Get("percentiles"); v != "" {
		for _, p := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				writeAPIError(w, http.StatusBadRequest, "invalid percentiles")
				return
			}
			params.RewardPercentiles = append(params.RewardPercentiles, f)
		}
	}
	history, err := s.client.GetFeeHistory(r.Context(), params)
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, history, nil, nil)
}
