package api

import (
	"net/http"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req evm.CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.client.Call(r.Context(), req.Params())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"result": hexutil.Encode(out)}, nil, nil)
}

func (s *Server) handleEstimateGas(w http.ResponseWriter, r *http.Request) {
	var req evm.CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	gas, err := s.client.EstimateGas(r.Context(), req.Params())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"gas": gas}, nil, nil)
}

func (s *Server) handleAccessList(w http.ResponseWriter, r *http.Request) {
	var req evm.CallRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.client.CreateAccessList(r.Context(), req.Params())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, res, nil, nil)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req evm.SimulateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	blocks, err := s.client.SimulateBlocks(r.Context(), req.Params())
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, blocks, map[string]interface{}{"count": len(blocks)}, nil)
}

// handleLogs runs eth_getLogs. With an eventAbi each log also carries its decoded arguments.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var req evm.LogFilterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := req.Filter()
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	logs, err := s.client.GetLogs(r.Context(), filter)
	if err != nil {
		writeClientError(w, err)
		return
	}
	meta := map[string]interface{}{"count": len(logs)}
	if filter.Event == nil {
		writeAPIResponse(w, logs, meta, nil)
		return
	}

	type decodedLog struct {
		Log       *types.Log             `json:"log"`
		EventName string                 `json:"event_name"`
		Args      map[string]interface{} `json:"args,omitempty"`
		Error     string                 `json:"decode_error,omitempty"`
	}
	out := make([]decodedLog, 0, len(logs))
	for i := range logs {
		item := decodedLog{Log: &logs[i], EventName: filter.Event.Name}
		if args, err := evm.DecodeEventLog(filter.Event, logs[i]); err != nil {
			item.Error = err.Error()
		} else {
			item.Args = args
		}
		out = append(out, item)
	}
	writeAPIResponse(w, out, meta, nil)
}

func (s *Server) handleVerifyHash(w http.ResponseWriter, r *http.Request) {
	var req evm.VerifyHashRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.client.VerifyHash(r.Context(), req.Params())
	writeVerifyResult(w, ok, err)
}

func (s *Server) handleVerifyMessage(w http.ResponseWriter, r *http.Request) {
	var req evm.VerifyMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.client.VerifyMessage(r.Context(), req.Params())
	writeVerifyResult(w, ok, err)
}

func (s *Server) handleVerifyTypedData(w http.ResponseWriter, r *http.Request) {
	var req evm.VerifyTypedDataRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := s.client.VerifyTypedData(r.Context(), req.Params())
	writeVerifyResult(w, ok, err)
}

func writeVerifyResult(w http.ResponseWriter, valid bool, err error) {
	if err != nil {
		writeClientError(w, err)
		return
	}
	writeAPIResponse(w, map[string]interface{}{"valid": valid}, nil, nil)
}
