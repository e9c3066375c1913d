package watch

import (
	"context"
	"time"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
)

type PendingTransactionsOptions struct {
	OnTransactions func(hashes []common.Hash)
	OnError        func(error)
	// Batch delivers all hashes of one poll in a single call. Defaults to true.
	Batch           *bool
	Poll            *bool
	PollingInterval time.Duration
}

func (o PendingTransactionsOptions) deliver(stopped func() bool, hashes []common.Hash) {
	if len(hashes) == 0 || stopped() {
		return
	}
	if o.Batch == nil || *o.Batch {
		o.OnTransactions(hashes)
		return
	}
	for i := range hashes {
		if stopped() {
			return
		}
		o.OnTransactions(hashes[i : i+1])
	}
}

// WatchPendingTransactions reports hashes of transactions entering the node's pool.
func WatchPendingTransactions(ctx context.Context, src Source, opts PendingTransactionsOptions) Unwatch {
	every := interval(src, opts.PollingInterval)
	polling := usePolling(src, opts.Poll, "watchPendingTransactions")

	return start(ctx, func(ctx context.Context) {
		stopped := func() bool { return ctx.Err() != nil }
		report := func(err error) {
			if ctx.Err() == nil {
				reportError("watchPendingTransactions", opts.OnError, err)
			}
		}

		if !polling {
			err := subscribePending(ctx, src, func(h common.Hash) {
				opts.deliver(stopped, []common.Hash{h})
			})
			if err == nil || ctx.Err() != nil {
				return
			}
			report(err)
		}

		var filter *evm.Filter
		defer func() {
			if filter != nil {
				cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = src.UninstallFilter(cleanup, filter)
			}
		}()
		poll(ctx, every, true, func(ctx context.Context) {
			if filter == nil {
				f, err := src.CreatePendingTransactionFilter(ctx)
				if err != nil {
					report(err)
					return
				}
				filter = f
				return
			}
			changes, err := src.GetFilterChanges(ctx, filter)
			if err != nil {
				filter = nil
				report(err)
				return
			}
			opts.deliver(stopped, changes.Hashes)
		})
	})
}

func subscribePending(ctx context.Context, src Source, fn func(common.Hash)) error {
	hashes := make(chan common.Hash, 256)
	sub, err := src.SubscribeNewPendingTransactions(ctx, hashes)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case h := <-hashes:
			if ctx.Err() != nil {
				return nil
			}
			fn(h)
		}
	}
}
