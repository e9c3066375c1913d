package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SimulateCall is one call inside a simulated block. When ABI and FunctionName
// are set, Data is encoded from Args and the return data is decoded.
type SimulateCall struct {
	From                 *common.Address  `json:"from,omitempty"`
	To                   *common.Address  `json:"to,omitempty"`
	Data                 []byte           `json:"data,omitempty"`
	Value                *big.Int         `json:"value,omitempty"`
	Gas                  *uint64          `json:"gas,omitempty"`
	GasPrice             *big.Int         `json:"gas_price,omitempty" validate:"excluded_with=MaxFeePerGas MaxPriorityFeePerGas"`
	MaxFeePerGas         *big.Int         `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int         `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                *uint64          `json:"nonce,omitempty"`
	AccessList           types.AccessList `json:"access_list,omitempty"`
	ABI                  *abi.ABI         `json:"-"`
	FunctionName         string           `json:"function_name,omitempty" validate:"required_with=ABI"`
	Args                 []interface{}    `json:"args,omitempty"`
}

func (sc SimulateCall) rpcArgs() (rpcCallArgs, error) {
	data := sc.Data
	if sc.ABI != nil && len(data) == 0 {
		packed, err := ContractCall{ABI: sc.ABI, FunctionName: sc.FunctionName, Args: sc.Args}.pack()
		if err != nil {
			return rpcCallArgs{}, err
		}
		data = packed
	}
	return CallParams{
		Account:              sc.From,
		To:                   sc.To,
		Data:                 data,
		Value:                sc.Value,
		Gas:                  sc.Gas,
		GasPrice:             sc.GasPrice,
		MaxFeePerGas:         sc.MaxFeePerGas,
		MaxPriorityFeePerGas: sc.MaxPriorityFeePerGas,
		Nonce:                sc.Nonce,
		AccessList:           sc.AccessList,
	}.rpcArgs(), nil
}

// SimulateBlock is a block of calls executed on top of the previous one.
type SimulateBlock struct {
	BlockOverrides *BlockOverrides `json:"block_overrides,omitempty"`
	Calls          []SimulateCall  `json:"calls" validate:"dive"`
	StateOverrides []StateOverride `json:"state_overrides,omitempty"`
}

type SimulateParams struct {
	Blocks                 []SimulateBlock `json:"blocks" validate:"min=1,dive"`
	ReturnFullTransactions bool            `json:"return_full_transactions"`
	TraceTransfers         bool            `json:"trace_transfers"`
	Validation             bool            `json:"validation"`
	Block                  BlockSelector   `json:"block"`
}

type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallFailure CallStatus = "failure"
)

// SimulatedCall is the outcome of one simulated call.
type SimulatedCall struct {
	Status     CallStatus    `json:"status"`
	ReturnData hexutil.Bytes `json:"return_data"`
	GasUsed    uint64        `json:"gas_used"`
	Logs       []*types.Log  `json:"logs"`
	Result     []interface{} `json:"result,omitempty"`
	Error      error         `json:"-"`
}

// SimulatedBlock is a block produced by eth_simulateV1 with its call results.
type SimulatedBlock struct {
	*Block
	Calls []SimulatedCall `json:"calls"`
}

type rpcSimulateBlock struct {
	BlockOverrides *rpcBlockOverrides                 `json:"blockOverrides,omitempty"`
	StateOverrides map[common.Address]overrideAccount `json:"stateOverrides,omitempty"`
	Calls          []rpcCallArgs                      `json:"calls"`
}

type rpcSimulateOpts struct {
	BlockStateCalls        []rpcSimulateBlock `json:"blockStateCalls"`
	TraceTransfers         bool               `json:"traceTransfers"`
	Validation             bool               `json:"validation"`
	ReturnFullTransactions bool               `json:"returnFullTransactions"`
}

type rpcSimulatedCall struct {
	ReturnData hexutil.Bytes  `json:"returnData"`
	Logs       []*types.Log   `json:"logs"`
	GasUsed    hexutil.Uint64 `json:"gasUsed"`
	Status     hexutil.Uint64 `json:"status"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    string `json:"data,omitempty"`
	} `json:"error,omitempty"`
}

type rpcSimulatedBlock struct {
	rpcBlock
	Calls []rpcSimulatedCall `json:"calls"`
}

// SimulateBlocks executes a sequence of calls across one or more blocks on top
// of the selected block with optional state and block overrides (eth_simulateV1).
func (c *PublicClient) SimulateBlocks(ctx context.Context, p SimulateParams) ([]SimulatedBlock, error) {
	if err := validateParams("simulateBlocks", p); err != nil {
		return nil, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return nil, fmt.Errorf("simulateBlocks: %w", err)
	}

	opts := rpcSimulateOpts{
		BlockStateCalls:        make([]rpcSimulateBlock, len(p.Blocks)),
		TraceTransfers:         p.TraceTransfers,
		Validation:             p.Validation,
		ReturnFullTransactions: p.ReturnFullTransactions,
	}
	for i, b := range p.Blocks {
		state, err := serializeStateOverrides(b.StateOverrides)
		if err != nil {
			return nil, fmt.Errorf("simulateBlocks: block %d: %w", i, err)
		}
		calls := make([]rpcCallArgs, len(b.Calls))
		for j, call := range b.Calls {
			if calls[j], err = call.rpcArgs(); err != nil {
				return nil, fmt.Errorf("simulateBlocks: block %d call %d: %w", i, j, err)
			}
		}
		opts.BlockStateCalls[i] = rpcSimulateBlock{
			BlockOverrides: b.BlockOverrides.rpc(),
			StateOverrides: state,
			Calls:          calls,
		}
	}

	var raw []rpcSimulatedBlock
	if err := c.request(ctx, &raw, "eth_simulateV1", opts, block); err != nil {
		return nil, err
	}
	if len(raw) != len(p.Blocks) {
		return nil, fmt.Errorf("simulateBlocks: node returned %d blocks for %d requested", len(raw), len(p.Blocks))
	}

	out := make([]SimulatedBlock, len(raw))
	for i := range raw {
		formatted, err := raw[i].format()
		if err != nil {
			return nil, fmt.Errorf("simulateBlocks: block %d: %w", i, err)
		}
		out[i] = SimulatedBlock{Block: formatted, Calls: make([]SimulatedCall, len(raw[i].Calls))}
		for j, rc := range raw[i].Calls {
			var def *SimulateCall
			if j < len(p.Blocks[i].Calls) {
				def = &p.Blocks[i].Calls[j]
			}
			out[i].Calls[j] = formatSimulatedCall(rc, def)
		}
	}
	return out, nil
}

func formatSimulatedCall(rc rpcSimulatedCall, def *SimulateCall) SimulatedCall {
	call := SimulatedCall{
		Status:     CallSuccess,
		ReturnData: rc.ReturnData,
		GasUsed:    uint64(rc.GasUsed),
		Logs:       rc.Logs,
	}
	if call.Logs == nil {
		call.Logs = []*types.Log{}
	}
	if rc.Status != 1 {
		call.Status = CallFailure
		msg := "execution reverted"
		var data hexutil.Bytes
		if rc.Error != nil {
			msg = rc.Error.Message
			data = revertData(rc.Error.Data)
		}
		if len(data) == 0 {
			data = rc.ReturnData
		}
		call.Error = &ExecutionError{Message: msg, Data: data}
		return call
	}
	if def != nil && def.ABI != nil && def.FunctionName != "" {
		values, err := ContractCall{ABI: def.ABI, FunctionName: def.FunctionName}.unpack(rc.ReturnData)
		if err != nil {
			call.Status = CallFailure
			call.Error = err
			return call
		}
		call.Result = values
	}
	return call
}

// MarshalJSON renders the call error as text.
func (sc SimulatedCall) MarshalJSON() ([]byte, error) {
	type alias SimulatedCall
	var errText string
	if sc.Error != nil {
		errText = sc.Error.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias(sc), errText})
}
