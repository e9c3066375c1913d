package evm

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		sel, ok := sl.Current().Interface().(BlockSelector)
		if !ok {
			return
		}
		if err := sel.Validate(); err != nil {
			sl.ReportError(sel, "Block", "Block", "block_selector", err.Error())
		}
	}, BlockSelector{})
	return v
}

func validateParams(action string, params interface{}) error {
	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("%s: invalid parameters: %w", action, err)
	}
	return nil
}

// AddressParams selects an account state at a block.
type AddressParams struct {
	Address common.Address `json:"address"`
	Block   BlockSelector  `json:"block"`
}

type StorageParams struct {
	Address common.Address `json:"address"`
	Slot    common.Hash    `json:"slot"`
	Block   BlockSelector  `json:"block"`
}

type ProofParams struct {
	Address     common.Address `json:"address"`
	StorageKeys []common.Hash  `json:"storage_keys"`
	Block       BlockSelector  `json:"block"`
}

type GetBlockParams struct {
	Block               BlockSelector `json:"block"`
	IncludeTransactions bool          `json:"include_transactions"`
}

type GetBlockNumberParams struct {
	// CacheTime overrides the client cache time for this call. Zero bypasses the cache.
	CacheTime *time.Duration `json:"cache_time,omitempty"`
}

type GetTransactionParams struct {
	Hash  *common.Hash  `json:"hash,omitempty" validate:"required_without=Index,excluded_with=Index"`
	Block BlockSelector `json:"block"`
	Index *uint64       `json:"index,omitempty"`
}

type WaitForTransactionReceiptParams struct {
	Hash            common.Hash   `json:"hash"`
	Confirmations   uint64        `json:"confirmations" validate:"lte=1000"`
	PollingInterval time.Duration `json:"polling_interval"`
	Timeout         time.Duration `json:"timeout"`
	// OnReplaced is invoked when the transaction was dropped in favour of
	// another one with the same sender and nonce.
	OnReplaced func(Replacement) `json:"-"`
}

type FeeHistoryParams struct {
	BlockCount        uint64        `json:"block_count" validate:"min=1,max=1024"`
	Block             BlockSelector `json:"block"`
	RewardPercentiles []float64     `json:"reward_percentiles" validate:"max=100,dive,gte=0,lte=100"`
}

type FeeType string

const (
	FeeTypeEIP1559 FeeType = "eip1559"
	FeeTypeLegacy  FeeType = "legacy"
)

type EstimateFeesParams struct {
	Type FeeType `json:"type" validate:"omitempty,oneof=eip1559 legacy"`
	// BaseFeeMultiplier scales the base fee (or legacy gas price); defaults to 1.2.
	BaseFeeMultiplier float64 `json:"base_fee_multiplier" validate:"omitempty,gte=1,lte=100"`
}
