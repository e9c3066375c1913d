// Package watch turns polling or eth_subscribe notifications into callbacks.
// Every watcher runs on its own goroutine until its Unwatch is called or the
// parent context is cancelled.
package watch

import (
	"context"
	"log"
	"time"

	"evm-public-client/internal/evm"
	"evm-public-client/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Source is the client surface the watchers consume. *evm.PublicClient implements it.
type Source interface {
	GetBlockNumber(ctx context.Context, p evm.GetBlockNumberParams) (uint64, error)
	GetBlock(ctx context.Context, p evm.GetBlockParams) (*evm.Block, error)
	GetLogs(ctx context.Context, f evm.LogFilter) ([]types.Log, error)
	CreateEventFilter(ctx context.Context, f evm.LogFilter) (*evm.Filter, error)
	CreatePendingTransactionFilter(ctx context.Context) (*evm.Filter, error)
	GetFilterChanges(ctx context.Context, f *evm.Filter) (*evm.FilterChanges, error)
	UninstallFilter(ctx context.Context, f *evm.Filter) (bool, error)

	SupportsSubscriptions() bool
	PollingInterval() time.Duration
	SubscribeNewHeads(ctx context.Context, ch chan<- *evm.Head) (transport.Subscription, error)
	SubscribeLogs(ctx context.Context, f evm.LogFilter, ch chan<- types.Log) (transport.Subscription, error)
	SubscribeNewPendingTransactions(ctx context.Context, ch chan<- common.Hash) (transport.Subscription, error)
}

var _ Source = (*evm.PublicClient)(nil)

// Unwatch stops a watcher. It is safe to call more than once and from inside
// a callback. A callback already running is allowed to finish, but none is
// started afterwards.
type Unwatch func()

// Bool is a convenience for the optional Poll fields.
func Bool(b bool) *bool {
	return &b
}

func start(ctx context.Context, run func(ctx context.Context)) Unwatch {
	ctx, cancel := context.WithCancel(ctx)
	go run(ctx)
	return Unwatch(cancel)
}

// usePolling picks the delivery mode. An explicit Poll wins unless it asks
// for subscriptions the transport cannot provide.
func usePolling(src Source, poll *bool, name string) bool {
	if poll != nil && *poll {
		return true
	}
	if src.SupportsSubscriptions() {
		return false
	}
	if poll != nil {
		log.Printf("[watch] %s: transport cannot subscribe, falling back to polling", name)
	}
	return true
}

func interval(src Source, d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return src.PollingInterval()
}

// poll runs fn every interval, immediately first when emitOnBegin is set.
func poll(ctx context.Context, every time.Duration, emitOnBegin bool, fn func(ctx context.Context)) {
	if emitOnBegin {
		fn(ctx)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

func reportError(name string, onError func(error), err error) {
	if onError != nil {
		onError(err)
		return
	}
	log.Printf("[watch] %s error: %v", name, err)
}
