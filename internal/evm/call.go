package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallParams describes a message call. Legacy GasPrice and EIP-1559 fee caps
// are mutually exclusive.
type CallParams struct {
	Account              *common.Address              `json:"account,omitempty"`
	To                   *common.Address              `json:"to,omitempty"`
	Data                 []byte                       `json:"data,omitempty"`
	Value                *big.Int                     `json:"value,omitempty"`
	Gas                  *uint64                      `json:"gas,omitempty"`
	GasPrice             *big.Int                     `json:"gas_price,omitempty" validate:"excluded_with=MaxFeePerGas MaxPriorityFeePerGas"`
	MaxFeePerGas         *big.Int                     `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int                     `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                *uint64                      `json:"nonce,omitempty"`
	AccessList           types.AccessList             `json:"access_list,omitempty"`
	AuthorizationList    []types.SetCodeAuthorization `json:"authorization_list,omitempty"`
	Block                BlockSelector                `json:"block"`
	StateOverrides       []StateOverride              `json:"state_overrides,omitempty"`
	BlockOverrides       *BlockOverrides              `json:"block_overrides,omitempty"`
}

type rpcCallArgs struct {
	From                 *common.Address              `json:"from,omitempty"`
	To                   *common.Address              `json:"to,omitempty"`
	Data                 hexutil.Bytes                `json:"data,omitempty"`
	Value                *hexutil.Big                 `json:"value,omitempty"`
	Gas                  *hexutil.Uint64              `json:"gas,omitempty"`
	GasPrice             *hexutil.Big                 `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big                 `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big                 `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64              `json:"nonce,omitempty"`
	AccessList           *types.AccessList            `json:"accessList,omitempty"`
	AuthorizationList    []types.SetCodeAuthorization `json:"authorizationList,omitempty"`
}

func (p CallParams) rpcArgs() rpcCallArgs {
	args := rpcCallArgs{
		From:                 p.Account,
		To:                   p.To,
		Data:                 p.Data,
		Value:                (*hexutil.Big)(p.Value),
		Gas:                  (*hexutil.Uint64)(p.Gas),
		GasPrice:             (*hexutil.Big)(p.GasPrice),
		MaxFeePerGas:         (*hexutil.Big)(p.MaxFeePerGas),
		MaxPriorityFeePerGas: (*hexutil.Big)(p.MaxPriorityFeePerGas),
		Nonce:                (*hexutil.Uint64)(p.Nonce),
		AuthorizationList:    p.AuthorizationList,
	}
	if p.AccessList != nil {
		al := p.AccessList
		args.AccessList = &al
	}
	return args
}

// callArgs builds the positional parameters shared by eth_call and
// eth_estimateGas: call object, block, then optional state and block overrides.
func (p CallParams) callArgs(alwaysBlock bool) ([]interface{}, error) {
	block, err := p.Block.arg()
	if err != nil {
		return nil, err
	}
	state, err := serializeStateOverrides(p.StateOverrides)
	if err != nil {
		return nil, err
	}

	args := []interface{}{p.rpcArgs()}
	if !alwaysBlock && p.Block.IsZero() && state == nil && p.BlockOverrides == nil {
		return args, nil
	}
	args = append(args, block)
	if state != nil || p.BlockOverrides != nil {
		args = append(args, state)
	}
	if p.BlockOverrides != nil {
		args = append(args, p.BlockOverrides.rpc())
	}
	return args, nil
}

// Call executes a message call without creating a transaction and returns the output data.
func (c *PublicClient) Call(ctx context.Context, p CallParams) ([]byte, error) {
	if err := validateParams("call", p); err != nil {
		return nil, err
	}
	args, err := p.callArgs(true)
	if err != nil {
		return nil, fmt.Errorf("call: %w", err)
	}
	var out hexutil.Bytes
	if err := c.request(ctx, &out, "eth_call", args...); err != nil {
		if execErr, ok := AsExecutionError(err); ok {
			return nil, fmt.Errorf("call: %w", execErr)
		}
		return nil, err
	}
	return out, nil
}

// ContractCall names a contract function invocation.
type ContractCall struct {
	Address      common.Address `json:"address"`
	ABI          *abi.ABI       `json:"-" validate:"required"`
	FunctionName string         `json:"function_name" validate:"required"`
	Args         []interface{}  `json:"args,omitempty"`
}

func (cc ContractCall) pack() ([]byte, error) {
	data, err := cc.ABI.Pack(cc.FunctionName, cc.Args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cc.FunctionName, err)
	}
	return data, nil
}

func (cc ContractCall) unpack(output []byte) ([]interface{}, error) {
	values, err := cc.ABI.Unpack(cc.FunctionName, output)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", cc.FunctionName, err)
	}
	return values, nil
}

type ReadContractParams struct {
	ContractCall
	Account *common.Address `json:"account,omitempty"`
	Block   BlockSelector   `json:"block"`
}

// ReadContract calls a view function and decodes its outputs with the ABI.
func (c *PublicClient) ReadContract(ctx context.Context, p ReadContractParams) ([]interface{}, error) {
	if err := validateParams("readContract", p); err != nil {
		return nil, err
	}
	data, err := p.pack()
	if err != nil {
		return nil, fmt.Errorf("readContract: %w", err)
	}
	to := p.Address
	out, err := c.Call(ctx, CallParams{Account: p.Account, To: &to, Data: data, Block: p.Block})
	if err != nil {
		return nil, fmt.Errorf("readContract %s: %w", p.FunctionName, err)
	}
	values, err := p.unpack(out)
	if err != nil {
		return nil, fmt.Errorf("readContract: %w", err)
	}
	return values, nil
}

const multicall3ABIJSON = `[{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}]`

var multicall3ABI = mustParseABI(multicall3ABIJSON)

type multicall3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type multicall3Result struct {
	Success    bool
	ReturnData []byte
}

type MulticallParams struct {
	Contracts    []ContractCall  `json:"contracts" validate:"min=1,dive"`
	AllowFailure bool            `json:"allow_failure"`
	Block        BlockSelector   `json:"block"`
	Address      *common.Address `json:"multicall_address,omitempty"`
}

// MulticallResult holds either the decoded outputs or the failure of one call.
type MulticallResult struct {
	Result []interface{} `json:"result,omitempty"`
	Err    error         `json:"-"`
}

// Multicall batches contract reads into one eth_call through Multicall3.aggregate3.
// With AllowFailure, individual failures are reported per result; otherwise the
// first failure fails the whole batch.
func (c *PublicClient) Multicall(ctx context.Context, p MulticallParams) ([]MulticallResult, error) {
	if err := validateParams("multicall", p); err != nil {
		return nil, err
	}
	target := c.chain.Multicall3
	if p.Address != nil {
		target = *p.Address
	}
	if target == (common.Address{}) {
		return nil, fmt.Errorf("multicall: %w", ErrNoMulticall)
	}

	calls := make([]multicall3Call, len(p.Contracts))
	for i, cc := range p.Contracts {
		data, err := cc.pack()
		if err != nil {
			return nil, fmt.Errorf("multicall: call %d: %w", i, err)
		}
		calls[i] = multicall3Call{Target: cc.Address, AllowFailure: p.AllowFailure, CallData: data}
	}
	input, err := multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("multicall: encode aggregate3: %w", err)
	}

	out, err := c.Call(ctx, CallParams{To: &target, Data: input, Block: p.Block})
	if err != nil {
		return nil, fmt.Errorf("multicall: %w", err)
	}
	unpacked, err := multicall3ABI.Unpack("aggregate3", out)
	if err != nil {
		return nil, fmt.Errorf("multicall: decode aggregate3: %w", err)
	}
	raw := *abi.ConvertType(unpacked[0], new([]multicall3Result)).(*[]multicall3Result)
	if len(raw) != len(p.Contracts) {
		return nil, fmt.Errorf("multicall: got %d results for %d calls", len(raw), len(p.Contracts))
	}

	results := make([]MulticallResult, len(raw))
	for i, r := range raw {
		if !r.Success {
			results[i].Err = &ExecutionError{Message: "call reverted", Data: r.ReturnData}
		} else if values, err := p.Contracts[i].unpack(r.ReturnData); err != nil {
			results[i].Err = err
		} else {
			results[i].Result = values
		}
		if results[i].Err != nil && !p.AllowFailure {
			return nil, fmt.Errorf("multicall: call %d (%s): %w", i, p.Contracts[i].FunctionName, results[i].Err)
		}
	}
	return results, nil
}

// ParseABI parses a JSON ABI definition.
func ParseABI(definition string) (*abi.ABI, error) {
	if strings.TrimSpace(definition) == "" {
		return nil, errEmptyABI
	}
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	return &parsed, nil
}

func mustParseABI(definition string) *abi.ABI {
	parsed, err := ParseABI(definition)
	if err != nil {
		panic(err)
	}
	return parsed
}

var errEmptyABI = errors.New("abi definition is empty")
