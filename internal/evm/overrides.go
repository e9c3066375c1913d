package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// StorageSlot is a single storage assignment used by state overrides.
type StorageSlot struct {
	Slot  common.Hash `json:"slot"`
	Value common.Hash `json:"value"`
}

// StateOverride temporarily replaces account state for a call or simulation.
// State replaces the whole storage; StateDiff patches individual slots.
type StateOverride struct {
	Address   common.Address
	Balance   *big.Int
	Nonce     *uint64
	Code      []byte
	State     []StorageSlot
	StateDiff []StorageSlot
}

type overrideAccount struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	State     map[common.Hash]common.Hash `json:"state,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

func serializeStateOverrides(overrides []StateOverride) (map[common.Address]overrideAccount, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	out := make(map[common.Address]overrideAccount, len(overrides))
	for _, o := range overrides {
		if _, dup := out[o.Address]; dup {
			return nil, fmt.Errorf("%w: %s", ErrAccountStateConflict, o.Address.Hex())
		}
		if len(o.State) > 0 && len(o.StateDiff) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrStateAssignmentConflict, o.Address.Hex())
		}
		acc := overrideAccount{
			Balance: (*hexutil.Big)(o.Balance),
			Nonce:   (*hexutil.Uint64)(o.Nonce),
			Code:    o.Code,
		}
		if len(o.State) > 0 {
			acc.State = slotsToMap(o.State)
		}
		if len(o.StateDiff) > 0 {
			acc.StateDiff = slotsToMap(o.StateDiff)
		}
		out[o.Address] = acc
	}
	return out, nil
}

func slotsToMap(slots []StorageSlot) map[common.Hash]common.Hash {
	m := make(map[common.Hash]common.Hash, len(slots))
	for _, s := range slots {
		m[s.Slot] = s.Value
	}
	return m
}

// BlockOverrides changes the block context a call or simulated block executes in.
type BlockOverrides struct {
	Number        *big.Int
	Time          *uint64
	GasLimit      *uint64
	FeeRecipient  *common.Address
	PrevRandao    *common.Hash
	BaseFeePerGas *big.Int
	BlobBaseFee   *big.Int
}

type rpcBlockOverrides struct {
	Number        *hexutil.Big    `json:"number,omitempty"`
	Time          *hexutil.Uint64 `json:"time,omitempty"`
	GasLimit      *hexutil.Uint64 `json:"gasLimit,omitempty"`
	FeeRecipient  *common.Address `json:"feeRecipient,omitempty"`
	PrevRandao    *common.Hash    `json:"prevRandao,omitempty"`
	BaseFeePerGas *hexutil.Big    `json:"baseFeePerGas,omitempty"`
	BlobBaseFee   *hexutil.Big    `json:"blobBaseFee,omitempty"`
}

func (b *BlockOverrides) rpc() *rpcBlockOverrides {
	if b == nil {
		return nil
	}
	return &rpcBlockOverrides{
		Number:        (*hexutil.Big)(b.Number),
		Time:          (*hexutil.Uint64)(b.Time),
		GasLimit:      (*hexutil.Uint64)(b.GasLimit),
		FeeRecipient:  b.FeeRecipient,
		PrevRandao:    b.PrevRandao,
		BaseFeePerGas: (*hexutil.Big)(b.BaseFeePerGas),
		BlobBaseFee:   (*hexutil.Big)(b.BlobBaseFee),
	}
}
