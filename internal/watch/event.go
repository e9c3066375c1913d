package watch

import (
	"context"
	"time"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/core/types"
)

type EventOptions struct {
	Filter evm.LogFilter
	// OnLogs receives matching logs. Without Batch it is called once per log.
	OnLogs  func(logs []types.Log)
	OnError func(error)
	// Batch delivers all logs of one poll in a single call. Defaults to true.
	Batch           *bool
	Poll            *bool
	PollingInterval time.Duration
}

func (o EventOptions) batch() bool {
	return o.Batch == nil || *o.Batch
}

func (o EventOptions) deliver(stopped func() bool, logs []types.Log) {
	if len(logs) == 0 || stopped() {
		return
	}
	if o.batch() {
		o.OnLogs(logs)
		return
	}
	for i := range logs {
		if stopped() {
			return
		}
		o.OnLogs(logs[i : i+1])
	}
}

// eventPoller prefers a node-side filter and falls back to ranged
// eth_getLogs calls when the node refuses to install one.
type eventPoller struct {
	src         Source
	opts        EventOptions
	filter      *evm.Filter
	initialized bool
	prevBlock   *uint64
}

func (p *eventPoller) tick(ctx context.Context) ([]types.Log, error) {
	if !p.initialized {
		p.initialized = true
		f, err := p.src.CreateEventFilter(ctx, p.opts.Filter)
		if err == nil {
			p.filter = f
		}
		return nil, nil
	}

	if p.filter != nil {
		changes, err := p.src.GetFilterChanges(ctx, p.filter)
		if err != nil {
			// Filters expire on the node; install a fresh one next tick.
			p.filter = nil
			p.initialized = false
			return nil, err
		}
		return changes.Logs, nil
	}

	n, err := p.src.GetBlockNumber(ctx, evm.GetBlockNumberParams{})
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	if p.prevBlock != nil && *p.prevBlock < n {
		f := p.opts.Filter
		f.BlockHash = nil
		f.FromBlock = evm.AtNumber(*p.prevBlock + 1)
		f.ToBlock = evm.AtNumber(n)
		logs, err = p.src.GetLogs(ctx, f)
		if err != nil {
			return nil, err
		}
	}
	if p.prevBlock == nil || *p.prevBlock < n {
		p.prevBlock = &n
	}
	return logs, nil
}

// WatchEvent reports logs matching opts.Filter as they appear on chain.
func WatchEvent(ctx context.Context, src Source, opts EventOptions) Unwatch {
	every := interval(src, opts.PollingInterval)
	polling := usePolling(src, opts.Poll, "watchEvent")

	return start(ctx, func(ctx context.Context) {
		stopped := func() bool { return ctx.Err() != nil }
		report := func(err error) {
			if ctx.Err() == nil {
				reportError("watchEvent", opts.OnError, err)
			}
		}

		if !polling {
			err := subscribeLogs(ctx, src, opts.Filter, func(l types.Log) {
				opts.deliver(stopped, []types.Log{l})
			})
			if err == nil || ctx.Err() != nil {
				return
			}
			report(err)
		}

		p := &eventPoller{src: src, opts: opts}
		defer func() {
			if p.filter != nil {
				cleanup, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, _ = src.UninstallFilter(cleanup, p.filter)
			}
		}()
		poll(ctx, every, true, func(ctx context.Context) {
			logs, err := p.tick(ctx)
			if err != nil {
				report(err)
				return
			}
			opts.deliver(stopped, logs)
		})
	})
}

func subscribeLogs(ctx context.Context, src Source, f evm.LogFilter, fn func(types.Log)) error {
	logs := make(chan types.Log, 64)
	sub, err := src.SubscribeLogs(ctx, f, logs)
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
		case l := <-logs:
			if ctx.Err() != nil {
				return nil
			}
			if l.Removed {
				continue
			}
			fn(l)
		}
	}
}
