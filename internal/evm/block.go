package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is a formatted block. Number and Hash are nil for pending blocks.
// Exactly one of TransactionHashes and Transactions is populated, depending
// on whether full transactions were requested.
type Block struct {
	Number                *big.Int            `json:"number"`
	Hash                  *common.Hash        `json:"hash"`
	ParentHash            common.Hash         `json:"parent_hash"`
	Nonce                 *types.BlockNonce   `json:"nonce,omitempty"`
	Miner                 *common.Address     `json:"miner,omitempty"`
	StateRoot             common.Hash         `json:"state_root"`
	TransactionsRoot      common.Hash         `json:"transactions_root"`
	ReceiptsRoot          common.Hash         `json:"receipts_root"`
	LogsBloom             *types.Bloom        `json:"logs_bloom,omitempty"`
	Difficulty            *big.Int            `json:"difficulty"`
	TotalDifficulty       *big.Int            `json:"total_difficulty,omitempty"`
	GasLimit              uint64              `json:"gas_limit"`
	GasUsed               uint64              `json:"gas_used"`
	Timestamp             uint64              `json:"timestamp"`
	ExtraData             hexutil.Bytes       `json:"extra_data"`
	MixHash               common.Hash         `json:"mix_hash"`
	BaseFeePerGas         *big.Int            `json:"base_fee_per_gas,omitempty"`
	BlobGasUsed           *uint64             `json:"blob_gas_used,omitempty"`
	ExcessBlobGas         *uint64             `json:"excess_blob_gas,omitempty"`
	WithdrawalsRoot       *common.Hash        `json:"withdrawals_root,omitempty"`
	ParentBeaconBlockRoot *common.Hash        `json:"parent_beacon_block_root,omitempty"`
	Size                  uint64              `json:"size"`
	TransactionHashes     []common.Hash       `json:"transaction_hashes,omitempty"`
	Transactions          []*Transaction      `json:"transactions,omitempty"`
	Uncles                []common.Hash       `json:"uncles"`
	Withdrawals           []*types.Withdrawal `json:"withdrawals,omitempty"`
}

// Time returns the block timestamp as wall-clock time.
func (b *Block) Time() time.Time {
	return time.Unix(int64(b.Timestamp), 0).UTC()
}

// TransactionCount counts transactions in either representation.
func (b *Block) TransactionCount() int {
	if len(b.Transactions) > 0 {
		return len(b.Transactions)
	}
	return len(b.TransactionHashes)
}

type rpcBlock struct {
	Number                *hexutil.Big        `json:"number"`
	Hash                  *common.Hash        `json:"hash"`
	ParentHash            common.Hash         `json:"parentHash"`
	Nonce                 *types.BlockNonce   `json:"nonce"`
	Miner                 *common.Address     `json:"miner"`
	StateRoot             common.Hash         `json:"stateRoot"`
	TransactionsRoot      common.Hash         `json:"transactionsRoot"`
	ReceiptsRoot          common.Hash         `json:"receiptsRoot"`
	LogsBloom             *types.Bloom        `json:"logsBloom"`
	Difficulty            *hexutil.Big        `json:"difficulty"`
	TotalDifficulty       *hexutil.Big        `json:"totalDifficulty"`
	GasLimit              hexutil.Uint64      `json:"gasLimit"`
	GasUsed               hexutil.Uint64      `json:"gasUsed"`
	Timestamp             hexutil.Uint64      `json:"timestamp"`
	ExtraData             hexutil.Bytes       `json:"extraData"`
	MixHash               common.Hash         `json:"mixHash"`
	BaseFeePerGas         *hexutil.Big        `json:"baseFeePerGas"`
	BlobGasUsed           *hexutil.Uint64     `json:"blobGasUsed"`
	ExcessBlobGas         *hexutil.Uint64     `json:"excessBlobGas"`
	WithdrawalsRoot       *common.Hash        `json:"withdrawalsRoot"`
	ParentBeaconBlockRoot *common.Hash        `json:"parentBeaconBlockRoot"`
	Size                  hexutil.Uint64      `json:"size"`
	Transactions          []json.RawMessage   `json:"transactions"`
	Uncles                []common.Hash       `json:"uncles"`
	Withdrawals           []*types.Withdrawal `json:"withdrawals"`
}

func (r *rpcBlock) format() (*Block, error) {
	b := &Block{
		Number:                bigOrNil(r.Number),
		Hash:                  r.Hash,
		ParentHash:            r.ParentHash,
		Nonce:                 r.Nonce,
		Miner:                 r.Miner,
		StateRoot:             r.StateRoot,
		TransactionsRoot:      r.TransactionsRoot,
		ReceiptsRoot:          r.ReceiptsRoot,
		LogsBloom:             r.LogsBloom,
		Difficulty:            bigOrZero(r.Difficulty),
		TotalDifficulty:       bigOrNil(r.TotalDifficulty),
		GasLimit:              uint64(r.GasLimit),
		GasUsed:               uint64(r.GasUsed),
		Timestamp:             uint64(r.Timestamp),
		ExtraData:             r.ExtraData,
		MixHash:               r.MixHash,
		BaseFeePerGas:         bigOrNil(r.BaseFeePerGas),
		BlobGasUsed:           (*uint64)(r.BlobGasUsed),
		ExcessBlobGas:         (*uint64)(r.ExcessBlobGas),
		WithdrawalsRoot:       r.WithdrawalsRoot,
		ParentBeaconBlockRoot: r.ParentBeaconBlockRoot,
		Size:                  uint64(r.Size),
		Uncles:                r.Uncles,
		Withdrawals:           r.Withdrawals,
	}
	if b.Uncles == nil {
		b.Uncles = []common.Hash{}
	}

	for i, raw := range r.Transactions {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var h common.Hash
			if err := json.Unmarshal(raw, &h); err != nil {
				return nil, fmt.Errorf("transaction hash %d: %w", i, err)
			}
			b.TransactionHashes = append(b.TransactionHashes, h)
			continue
		}
		tx := new(Transaction)
		if err := json.Unmarshal(raw, tx); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return b, nil
}

func decodeBlock(raw json.RawMessage) (*Block, error) {
	if isNull(raw) {
		return nil, ErrBlockNotFound
	}
	var rb rpcBlock
	if err := json.Unmarshal(raw, &rb); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return rb.format()
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// GetBlock returns the block at a number, hash or tag.
func (c *PublicClient) GetBlock(ctx context.Context, p GetBlockParams) (*Block, error) {
	if err := validateParams("getBlock", p); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if p.Block.Hash != nil {
		if err := p.Block.Validate(); err != nil {
			return nil, fmt.Errorf("getBlock: %w", err)
		}
		if err := c.request(ctx, &raw, "eth_getBlockByHash", *p.Block.Hash, p.IncludeTransactions); err != nil {
			return nil, err
		}
	} else {
		num, err := p.Block.numberArg()
		if err != nil {
			return nil, fmt.Errorf("getBlock: %w", err)
		}
		if err := c.request(ctx, &raw, "eth_getBlockByNumber", num, p.IncludeTransactions); err != nil {
			return nil, err
		}
	}

	b, err := decodeBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("getBlock %s: %w", p.Block, err)
	}
	return b, nil
}

// sharedRequestTimeout bounds a coalesced request that no longer follows the
// cancellation of the caller that started it.
const sharedRequestTimeout = 30 * time.Second

// GetBlockNumber returns the most recent block number, reusing a value fetched
// within the cache time. Concurrent callers share a single in-flight request.
func (c *PublicClient) GetBlockNumber(ctx context.Context, p GetBlockNumberParams) (uint64, error) {
	cacheTime := c.cacheTime
	if p.CacheTime != nil {
		cacheTime = *p.CacheTime
	}

	if cacheTime > 0 {
		c.blockNumberMu.Lock()
		if !c.blockNumberAt.IsZero() && time.Since(c.blockNumberAt) < cacheTime {
			n := c.blockNumber
			c.blockNumberMu.Unlock()
			return n, nil
		}
		c.blockNumberMu.Unlock()
	}

	// The shared request outlives any single caller's cancellation; each
	// caller still returns as soon as its own ctx is done.
	ch := c.blockNumberCall.DoChan("eth_blockNumber", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRequestTimeout)
		defer cancel()
		var n hexutil.Uint64
		if err := c.request(rctx, &n, "eth_blockNumber"); err != nil {
			return nil, err
		}
		c.blockNumberMu.Lock()
		c.blockNumber = uint64(n)
		c.blockNumberAt = time.Now()
		c.blockNumberMu.Unlock()
		return uint64(n), nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(uint64), nil
	}
}

// GetBlockTransactionCount returns the number of transactions in a block.
func (c *PublicClient) GetBlockTransactionCount(ctx context.Context, block BlockSelector) (uint64, error) {
	if err := block.Validate(); err != nil {
		return 0, fmt.Errorf("getBlockTransactionCount: %w", err)
	}

	var count *hexutil.Uint64
	if block.Hash != nil {
		if err := c.request(ctx, &count, "eth_getBlockTransactionCountByHash", *block.Hash); err != nil {
			return 0, err
		}
	} else {
		num, err := block.numberArg()
		if err != nil {
			return 0, fmt.Errorf("getBlockTransactionCount: %w", err)
		}
		if err := c.request(ctx, &count, "eth_getBlockTransactionCountByNumber", num); err != nil {
			return 0, err
		}
	}
	if count == nil {
		return 0, fmt.Errorf("getBlockTransactionCount %s: %w", block, ErrBlockNotFound)
	}
	return uint64(*count), nil
}
