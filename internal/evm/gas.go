package evm

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const defaultBaseFeeMultiplier = 1.2

// GetGasPrice returns the node's current legacy gas price in wei.
func (c *PublicClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var price hexutil.Big
	if err := c.request(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, err
	}
	return (*big.Int)(&price), nil
}

// EstimateMaxPriorityFeePerGas returns a validator tip suggestion. Nodes without
// eth_maxPriorityFeePerGas fall back to gasPrice - baseFee.
func (c *PublicClient) EstimateMaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	var tip hexutil.Big
	if err := c.request(ctx, &tip, "eth_maxPriorityFeePerGas"); err == nil {
		return (*big.Int)(&tip), nil
	}

	block, err := c.GetBlock(ctx, GetBlockParams{})
	if err != nil {
		return nil, fmt.Errorf("estimateMaxPriorityFeePerGas: %w", err)
	}
	if block.BaseFeePerGas == nil {
		return nil, fmt.Errorf("estimateMaxPriorityFeePerGas: chain does not support EIP-1559 fees")
	}
	price, err := c.GetGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimateMaxPriorityFeePerGas: %w", err)
	}
	fee := new(big.Int).Sub(price, block.BaseFeePerGas)
	if fee.Sign() < 0 {
		fee.SetInt64(0)
	}
	return fee, nil
}

// FeeValues holds either EIP-1559 caps or a legacy gas price.
type FeeValues struct {
	Type                 FeeType  `json:"type"`
	GasPrice             *big.Int `json:"gas_price,omitempty"`
	MaxFeePerGas         *big.Int `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas *big.Int `json:"max_priority_fee_per_gas,omitempty"`
}

// EstimateFeesPerGas suggests fees for the next block:
// maxFeePerGas = baseFee * multiplier + maxPriorityFeePerGas, or
// gasPrice * multiplier for legacy chains.
func (c *PublicClient) EstimateFeesPerGas(ctx context.Context, p EstimateFeesParams) (*FeeValues, error) {
	if err := validateParams("estimateFeesPerGas", p); err != nil {
		return nil, err
	}
	multiplier := p.BaseFeeMultiplier
	if multiplier == 0 {
		multiplier = defaultBaseFeeMultiplier
	}

	block, err := c.GetBlock(ctx, GetBlockParams{})
	if err != nil {
		return nil, fmt.Errorf("estimateFeesPerGas: %w", err)
	}

	feeType := p.Type
	if feeType == "" {
		feeType = FeeTypeEIP1559
		if block.BaseFeePerGas == nil {
			feeType = FeeTypeLegacy
		}
	}

	if feeType == FeeTypeLegacy {
		price, err := c.GetGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("estimateFeesPerGas: %w", err)
		}
		return &FeeValues{Type: FeeTypeLegacy, GasPrice: scaleByMultiplier(price, multiplier)}, nil
	}

	if block.BaseFeePerGas == nil {
		return nil, fmt.Errorf("estimateFeesPerGas: chain does not support EIP-1559 fees")
	}
	tip, err := c.EstimateMaxPriorityFeePerGas(ctx)
	if err != nil {
		return nil, fmt.Errorf("estimateFeesPerGas: %w", err)
	}
	maxFee := new(big.Int).Add(scaleByMultiplier(block.BaseFeePerGas, multiplier), tip)
	return &FeeValues{Type: FeeTypeEIP1559, MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// scaleByMultiplier computes v*multiplier exactly, reading the multiplier as
// the shortest decimal that round-trips it. The result is truncated.
func scaleByMultiplier(v *big.Int, multiplier float64) *big.Int {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(multiplier, 'f', -1, 64))
	if !ok {
		return new(big.Int).Set(v)
	}
	out := new(big.Int).Mul(v, r.Num())
	return out.Quo(out, r.Denom())
}

type FeeHistory struct {
	OldestBlock       *big.Int     `json:"oldest_block"`
	BaseFeePerGas     []*big.Int   `json:"base_fee_per_gas"`
	GasUsedRatio      []float64    `json:"gas_used_ratio"`
	Reward            [][]*big.Int `json:"reward,omitempty"`
	BaseFeePerBlobGas []*big.Int   `json:"base_fee_per_blob_gas,omitempty"`
	BlobGasUsedRatio  []float64    `json:"blob_gas_used_ratio,omitempty"`
}

// GetFeeHistory returns base fees and reward percentiles for a range of blocks
// ending at p.Block.
func (c *PublicClient) GetFeeHistory(ctx context.Context, p FeeHistoryParams) (*FeeHistory, error) {
	if err := validateParams("getFeeHistory", p); err != nil {
		return nil, err
	}
	for i := 1; i < len(p.RewardPercentiles); i++ {
		if p.RewardPercentiles[i] < p.RewardPercentiles[i-1] {
			return nil, fmt.Errorf("getFeeHistory: reward percentiles must be increasing")
		}
	}
	newest, err := p.Block.numberArg()
	if err != nil {
		return nil, fmt.Errorf("getFeeHistory: %w", err)
	}
	percentiles := p.RewardPercentiles
	if percentiles == nil {
		percentiles = []float64{}
	}

	var res struct {
		OldestBlock       *hexutil.Big     `json:"oldestBlock"`
		BaseFeePerGas     []*hexutil.Big   `json:"baseFeePerGas"`
		GasUsedRatio      []float64        `json:"gasUsedRatio"`
		Reward            [][]*hexutil.Big `json:"reward"`
		BaseFeePerBlobGas []*hexutil.Big   `json:"baseFeePerBlobGas"`
		BlobGasUsedRatio  []float64        `json:"blobGasUsedRatio"`
	}
	if err := c.request(ctx, &res, "eth_feeHistory", hexutil.Uint64(p.BlockCount), newest, percentiles); err != nil {
		return nil, err
	}

	out := &FeeHistory{
		OldestBlock:       bigOrZero(res.OldestBlock),
		BaseFeePerGas:     bigs(res.BaseFeePerGas),
		GasUsedRatio:      res.GasUsedRatio,
		BaseFeePerBlobGas: bigs(res.BaseFeePerBlobGas),
		BlobGasUsedRatio:  res.BlobGasUsedRatio,
	}
	for _, r := range res.Reward {
		out.Reward = append(out.Reward, bigs(r))
	}
	return out, nil
}

func bigs(in []*hexutil.Big) []*big.Int {
	if in == nil {
		return nil
	}
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = bigOrZero(v)
	}
	return out
}

// EstimateGas returns the gas a transaction with these parameters would use.
func (c *PublicClient) EstimateGas(ctx context.Context, p CallParams) (uint64, error) {
	if err := validateParams("estimateGas", p); err != nil {
		return 0, err
	}
	if p.BlockOverrides != nil {
		return 0, fmt.Errorf("estimateGas: block overrides are not supported")
	}
	args, err := p.callArgs(false)
	if err != nil {
		return 0, fmt.Errorf("estimateGas: %w", err)
	}
	var gas hexutil.Uint64
	if err := c.request(ctx, &gas, "eth_estimateGas", args...); err != nil {
		if execErr, ok := AsExecutionError(err); ok {
			return 0, fmt.Errorf("estimateGas: %w", execErr)
		}
		return 0, err
	}
	return uint64(gas), nil
}

type AccessListResult struct {
	AccessList types.AccessList `json:"access_list"`
	GasUsed    uint64           `json:"gas_used"`
}

// CreateAccessList returns the storage slots and addresses the call touches,
// with the gas it uses when those are declared up front (EIP-2930).
func (c *PublicClient) CreateAccessList(ctx context.Context, p CallParams) (*AccessListResult, error) {
	if err := validateParams("createAccessList", p); err != nil {
		return nil, err
	}
	if len(p.StateOverrides) > 0 || p.BlockOverrides != nil {
		return nil, fmt.Errorf("createAccessList: overrides are not supported")
	}
	block, err := p.Block.arg()
	if err != nil {
		return nil, fmt.Errorf("createAccessList: %w", err)
	}

	var res struct {
		AccessList types.AccessList `json:"accessList"`
		GasUsed    hexutil.Uint64   `json:"gasUsed"`
		Error      string           `json:"error,omitempty"`
	}
	if err := c.request(ctx, &res, "eth_createAccessList", p.rpcArgs(), block); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return nil, fmt.Errorf("createAccessList: %w", &ExecutionError{Message: res.Error})
	}
	if res.AccessList == nil {
		res.AccessList = types.AccessList{}
	}
	return &AccessListResult{AccessList: res.AccessList, GasUsed: uint64(res.GasUsed)}, nil
}
