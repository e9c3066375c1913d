package evm

import (
	"context"
	"fmt"

	"evm-public-client/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Head is the subset of a newHeads notification the watchers rely on.
type Head struct {
	Number     *hexutil.Big   `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

// SubscribeNewHeads delivers a Head for every new canonical block.
func (c *PublicClient) SubscribeNewHeads(ctx context.Context, ch chan<- *Head) (transport.Subscription, error) {
	return c.Subscribe(ctx, ch, "newHeads")
}

// SubscribeLogs delivers logs matching the filter as they are mined. Block
// range fields are ignored by nodes for subscriptions.
func (c *PublicClient) SubscribeLogs(ctx context.Context, f LogFilter, ch chan<- types.Log) (transport.Subscription, error) {
	filter, err := f.rpc()
	if err != nil {
		return nil, fmt.Errorf("subscribeLogs: %w", err)
	}
	filter.FromBlock, filter.ToBlock, filter.BlockHash = "", "", nil
	return c.Subscribe(ctx, ch, "logs", filter)
}

// SubscribeNewPendingTransactions delivers the hash of every transaction entering the pool.
func (c *PublicClient) SubscribeNewPendingTransactions(ctx context.Context, ch chan<- common.Hash) (transport.Subscription, error) {
	return c.Subscribe(ctx, ch, "newPendingTransactions")
}
