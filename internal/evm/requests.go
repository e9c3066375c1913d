package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Request types decode the JSON bodies accepted by the HTTP API and CLI.
// Quantities may be given as 0x-hex or decimal strings.

type StateOverrideRequest struct {
	Address   common.Address        `json:"address"`
	Balance   *math.HexOrDecimal256 `json:"balance,omitempty"`
	Nonce     *math.HexOrDecimal64  `json:"nonce,omitempty"`
	Code      hexutil.Bytes         `json:"code,omitempty"`
	State     []StorageSlot         `json:"state,omitempty"`
	StateDiff []StorageSlot         `json:"stateDiff,omitempty"`
}

func (r StateOverrideRequest) override() StateOverride {
	return StateOverride{
		Address:   r.Address,
		Balance:   (*big.Int)(r.Balance),
		Nonce:     (*uint64)(r.Nonce),
		Code:      r.Code,
		State:     r.State,
		StateDiff: r.StateDiff,
	}
}

func stateOverrides(in []StateOverrideRequest) []StateOverride {
	if len(in) == 0 {
		return nil
	}
	out := make([]StateOverride, len(in))
	for i, r := range in {
		out[i] = r.override()
	}
	return out
}

type BlockOverridesRequest struct {
	Number        *math.HexOrDecimal256 `json:"number,omitempty"`
	Time          *math.HexOrDecimal64  `json:"time,omitempty"`
	GasLimit      *math.HexOrDecimal64  `json:"gasLimit,omitempty"`
	FeeRecipient  *common.Address       `json:"feeRecipient,omitempty"`
	PrevRandao    *common.Hash          `json:"prevRandao,omitempty"`
	BaseFeePerGas *math.HexOrDecimal256 `json:"baseFeePerGas,omitempty"`
	BlobBaseFee   *math.HexOrDecimal256 `json:"blobBaseFee,omitempty"`
}

func (r *BlockOverridesRequest) overrides() *BlockOverrides {
	if r == nil {
		return nil
	}
	return &BlockOverrides{
		Number:        (*big.Int)(r.Number),
		Time:          (*uint64)(r.Time),
		GasLimit:      (*uint64)(r.GasLimit),
		FeeRecipient:  r.FeeRecipient,
		PrevRandao:    r.PrevRandao,
		BaseFeePerGas: (*big.Int)(r.BaseFeePerGas),
		BlobBaseFee:   (*big.Int)(r.BlobBaseFee),
	}
}

// CallRequest is a message call. Account and From are synonyms.
type CallRequest struct {
	Account              *common.Address              `json:"account,omitempty"`
	From                 *common.Address              `json:"from,omitempty"`
	To                   *common.Address              `json:"to,omitempty"`
	Data                 hexutil.Bytes                `json:"data,omitempty"`
	Value                *math.HexOrDecimal256        `json:"value,omitempty"`
	Gas                  *math.HexOrDecimal64         `json:"gas,omitempty"`
	GasPrice             *math.HexOrDecimal256        `json:"gasPrice,omitempty"`
	MaxFeePerGas         *math.HexOrDecimal256        `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *math.HexOrDecimal256        `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *math.HexOrDecimal64         `json:"nonce,omitempty"`
	AccessList           types.AccessList             `json:"accessList,omitempty"`
	AuthorizationList    []types.SetCodeAuthorization `json:"authorizationList,omitempty"`
	Block                BlockSelector                `json:"block"`
	StateOverrides       []StateOverrideRequest       `json:"stateOverrides,omitempty"`
	BlockOverrides       *BlockOverridesRequest       `json:"blockOverrides,omitempty"`
}

func (r CallRequest) sender() *common.Address {
	if r.Account != nil {
		return r.Account
	}
	return r.From
}

func (r CallRequest) Params() CallParams {
	return CallParams{
		Account:              r.sender(),
		To:                   r.To,
		Data:                 r.Data,
		Value:                (*big.Int)(r.Value),
		Gas:                  (*uint64)(r.Gas),
		GasPrice:             (*big.Int)(r.GasPrice),
		MaxFeePerGas:         (*big.Int)(r.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(r.MaxPriorityFeePerGas),
		Nonce:                (*uint64)(r.Nonce),
		AccessList:           r.AccessList,
		AuthorizationList:    r.AuthorizationList,
		Block:                r.Block,
		StateOverrides:       stateOverrides(r.StateOverrides),
		BlockOverrides:       r.BlockOverrides.overrides(),
	}
}

type SimulateBlockRequest struct {
	BlockOverrides *BlockOverridesRequest `json:"blockOverrides,omitempty"`
	Calls          []CallRequest          `json:"calls"`
	StateOverrides []StateOverrideRequest `json:"stateOverrides,omitempty"`
}

type SimulateRequest struct {
	Blocks                 []SimulateBlockRequest `json:"blocks"`
	ReturnFullTransactions bool                   `json:"returnFullTransactions"`
	TraceTransfers         bool                   `json:"traceTransfers"`
	Validation             bool                   `json:"validation"`
	Block                  BlockSelector          `json:"block"`
}

func (r SimulateRequest) Params() SimulateParams {
	p := SimulateParams{
		Blocks:                 make([]SimulateBlock, len(r.Blocks)),
		ReturnFullTransactions: r.ReturnFullTransactions,
		TraceTransfers:         r.TraceTransfers,
		Validation:             r.Validation,
		Block:                  r.Block,
	}
	for i, b := range r.Blocks {
		calls := make([]SimulateCall, len(b.Calls))
		for j, c := range b.Calls {
			cp := c.Params()
			calls[j] = SimulateCall{
				From:                 cp.Account,
				To:                   cp.To,
				Data:                 cp.Data,
				Value:                cp.Value,
				Gas:                  cp.Gas,
				GasPrice:             cp.GasPrice,
				MaxFeePerGas:         cp.MaxFeePerGas,
				MaxPriorityFeePerGas: cp.MaxPriorityFeePerGas,
				Nonce:                cp.Nonce,
				AccessList:           cp.AccessList,
			}
		}
		p.Blocks[i] = SimulateBlock{
			BlockOverrides: b.BlockOverrides.overrides(),
			Calls:          calls,
			StateOverrides: stateOverrides(b.StateOverrides),
		}
	}
	return p
}

// LogFilterRequest selects logs by address and raw topics. EventABI, when set,
// is a JSON ABI with a single event that provides topic 0; Topics then filter the
// indexed arguments that follow it.
type LogFilterRequest struct {
	Address   []common.Address `json:"address,omitempty"`
	EventABI  string           `json:"eventAbi,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
	FromBlock BlockSelector    `json:"fromBlock"`
	ToBlock   BlockSelector    `json:"toBlock"`
	BlockHash *common.Hash     `json:"blockHash,omitempty"`
}

func (r LogFilterRequest) Filter() (LogFilter, error) {
	f := LogFilter{
		Addresses: r.Address,
		Topics:    r.Topics,
		FromBlock: r.FromBlock,
		ToBlock:   r.ToBlock,
		BlockHash: r.BlockHash,
	}
	if r.EventABI == "" {
		return f, nil
	}
	parsed, err := ParseABI(r.EventABI)
	if err != nil {
		return LogFilter{}, err
	}
	if len(parsed.Events) != 1 {
		return LogFilter{}, fmt.Errorf("eventAbi must define exactly one event, got %d", len(parsed.Events))
	}
	for _, ev := range parsed.Events {
		ev := ev
		f.Event = &ev
	}
	return f, nil
}

type VerifyHashRequest struct {
	Address   common.Address `json:"address"`
	Hash      common.Hash    `json:"hash"`
	Signature hexutil.Bytes  `json:"signature"`
	Block     BlockSelector  `json:"block"`
}

func (r VerifyHashRequest) Params() VerifyHashParams {
	return VerifyHashParams{Address: r.Address, Hash: r.Hash, Signature: r.Signature, Block: r.Block}
}

// VerifyMessageRequest carries either a UTF-8 Message or hex Raw bytes.
type VerifyMessageRequest struct {
	Address   common.Address `json:"address"`
	Message   string         `json:"message,omitempty"`
	Raw       hexutil.Bytes  `json:"raw,omitempty"`
	Signature hexutil.Bytes  `json:"signature"`
	Block     BlockSelector  `json:"block"`
}

func (r VerifyMessageRequest) Params() VerifyMessageParams {
	msg := []byte(r.Message)
	if len(r.Raw) > 0 {
		msg = r.Raw
	}
	return VerifyMessageParams{Address: r.Address, Message: msg, Signature: r.Signature, Block: r.Block}
}

type VerifyTypedDataRequest struct {
	Address   common.Address     `json:"address"`
	TypedData apitypes.TypedData `json:"typedData"`
	Signature hexutil.Bytes      `json:"signature"`
	Block     BlockSelector      `json:"block"`
}

func (r VerifyTypedDataRequest) Params() VerifyTypedDataParams {
	return VerifyTypedDataParams{Address: r.Address, TypedData: r.TypedData, Signature: r.Signature, Block: r.Block}
}
