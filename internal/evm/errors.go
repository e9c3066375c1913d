package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrBlockNotFound              = errors.New("block not found")
	ErrTransactionNotFound        = errors.New("transaction not found")
	ErrTransactionReceiptNotFound = errors.New("transaction receipt not found")
	ErrWaitTimeout                = errors.New("timed out while waiting for transaction receipt")
	ErrConflictingBlockSelector   = errors.New("only one of block number, block hash or block tag may be set")
	ErrAccountStateConflict       = errors.New("state override already set for account")
	ErrStateAssignmentConflict    = errors.New("state and stateDiff cannot both be set for an account")
	ErrSubscriptionsUnsupported   = errors.New("client transport does not support subscriptions")
	ErrUnsupportedSignature       = errors.New("unsupported signature format")
	ErrNoMulticall                = errors.New("chain has no multicall3 deployment configured")
)

// revertCode is the JSON-RPC error code geth-compatible nodes use for EVM reverts.
const revertCode = 3

// RPCError is a node-side JSON-RPC error annotated with the method that raised it.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Data    interface{}
	err     error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.err
}

// ExecutionError reports an EVM execution failure (revert, out of gas, ...).
type ExecutionError struct {
	Message string
	Data    hexutil.Bytes
}

func (e *ExecutionError) Error() string {
	if reason := e.Reason(); reason != "" && !strings.Contains(e.Message, reason) {
		return fmt.Sprintf("execution reverted: %s", reason)
	}
	return e.Message
}

// Reason decodes a Solidity Error(string) or Panic(uint256) payload.
func (e *ExecutionError) Reason() string {
	if len(e.Data) < 4 {
		return ""
	}
	reason, err := abi.UnpackRevert(e.Data)
	if err != nil {
		return ""
	}
	return reason
}

func wrapRPCError(method string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("%s: %w", method, err)
	}
	out := &RPCError{
		Method:  method,
		Code:    rpcErr.ErrorCode(),
		Message: rpcErr.Error(),
		err:     err,
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		out.Data = dataErr.ErrorData()
	}
	return out
}

// AsExecutionError extracts revert information from an RPC error, if present.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return nil, false
	}
	if rpcErr.Code != revertCode && !strings.Contains(strings.ToLower(rpcErr.Message), "revert") {
		return nil, false
	}
	return &ExecutionError{Message: rpcErr.Message, Data: revertData(rpcErr.Data)}, true
}

func revertData(data interface{}) hexutil.Bytes {
	switch v := data.(type) {
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return nil
		}
		return b
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil
		}
		return revertData(s)
	}
	return nil
}
