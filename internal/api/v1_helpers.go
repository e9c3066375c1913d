package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type apiEnvelope struct {
	Links map[string]string      `json:"_links,omitempty"`
	Meta  map[string]interface{} `json:"_meta,omitempty"`
	Data  interface{}            `json:"data,omitempty"`
	Error interface{}            `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	Data    string `json:"data,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data interface{}, meta map[string]interface{}, links map[string]string) {
	resp := apiEnvelope{
		Links: links,
		Meta:  meta,
		Data:  data,
	}
	json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: apiError{Message: message},
	})
}

// writeClientError maps an error from the public client to a status code.
// Reverts carry their data and decoded reason; node errors keep their code.
func writeClientError(w http.ResponseWriter, err error) {
	if execErr, ok := evm.AsExecutionError(err); ok {
		w.WriteHeader(http.StatusUnprocessableEntity)
		body := apiError{Message: execErr.Error(), Reason: execErr.Reason()}
		if len(execErr.Data) > 0 {
			body.Data = execErr.Data.String()
		}
		json.NewEncoder(w).Encode(apiEnvelope{Error: body})
		return
	}

	var rpcErr *evm.RPCError
	if errors.As(err, &rpcErr) {
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(apiEnvelope{Error: apiError{Message: rpcErr.Error(), Code: rpcErr.Code}})
		return
	}

	writeAPIError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, evm.ErrBlockNotFound),
		errors.Is(err, evm.ErrTransactionNotFound),
		errors.Is(err, evm.ErrTransactionReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, evm.ErrConflictingBlockSelector),
		errors.Is(err, evm.ErrAccountStateConflict),
		errors.Is(err, evm.ErrStateAssignmentConflict),
		errors.Is(err, evm.ErrUnsupportedSignature),
		errors.Is(err, evm.ErrNoMulticall),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func parseLimitOffset(r *http.Request) (int, int) {
	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// blockQuery reads the optional ?block= selector.
func blockQuery(r *http.Request) (evm.BlockSelector, error) {
	return evm.ParseBlockSelector(r.URL.Query().Get("block"))
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

// parseSlot accepts a 32-byte hash or a decimal or hex slot index.
func parseSlot(s string) (common.Hash, error) {
	if h, err := parseHash(s); err == nil {
		return h, nil
	}
	var n *big.Int
	var ok bool
	if strings.HasPrefix(s, "0x") {
		n, ok = new(big.Int).SetString(s[2:], 16)
	} else {
		n, ok = new(big.Int).SetString(s, 10)
	}
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("invalid storage slot %q", s)
	}
	return common.BigToHash(n), nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func bigString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
