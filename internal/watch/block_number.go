package watch

import (
	"context"
	"time"

	"evm-public-client/internal/evm"
)

type BlockNumberOptions struct {
	// OnBlockNumber receives each new number and the one emitted before it
	// (nil for the first emission).
	OnBlockNumber func(number uint64, prev *uint64)
	OnError       func(error)
	// EmitMissed emits every number skipped between two polls, in order.
	EmitMissed bool
	// EmitOnBegin polls immediately instead of after the first interval.
	EmitOnBegin bool
	// Poll forces polling (true) or subscriptions (false). Nil picks
	// subscriptions when the transport supports them.
	Poll            *bool
	PollingInterval time.Duration
}

// blockNumberTracker holds the emission rule shared by both modes.
type blockNumberTracker struct {
	prev    *uint64
	missed  bool
	emit    func(number uint64, prev *uint64)
	stopped func() bool
}

func (t *blockNumberTracker) observe(n uint64) {
	if t.prev != nil {
		if n == *t.prev {
			return
		}
		if t.missed && n > *t.prev+1 {
			for i := *t.prev + 1; i < n; i++ {
				if t.stopped() {
					return
				}
				t.send(i)
			}
		}
	}
	if t.prev == nil || n > *t.prev {
		if t.stopped() {
			return
		}
		t.send(n)
	}
}

func (t *blockNumberTracker) send(n uint64) {
	var prev *uint64
	if t.prev != nil {
		p := *t.prev
		prev = &p
	}
	t.emit(n, prev)
	t.prev = &n
}

// WatchBlockNumber reports increases of the chain head number.
func WatchBlockNumber(ctx context.Context, src Source, opts BlockNumberOptions) Unwatch {
	every := interval(src, opts.PollingInterval)
	polling := usePolling(src, opts.Poll, "watchBlockNumber")

	return start(ctx, func(ctx context.Context) {
		tracker := &blockNumberTracker{
			missed:  opts.EmitMissed,
			emit:    opts.OnBlockNumber,
			stopped: func() bool { return ctx.Err() != nil },
		}
		if !polling {
			err := subscribeHeads(ctx, src, func(h *evm.Head) {
				if h.Number != nil {
					tracker.observe(h.Number.ToInt().Uint64())
				}
			})
			if err == nil || ctx.Err() != nil {
				return
			}
			reportError("watchBlockNumber", opts.OnError, err)
		}

		fresh := time.Duration(0)
		poll(ctx, every, opts.EmitOnBegin, func(ctx context.Context) {
			n, err := src.GetBlockNumber(ctx, evm.GetBlockNumberParams{CacheTime: &fresh})
			if err != nil {
				if ctx.Err() == nil {
					reportError("watchBlockNumber", opts.OnError, err)
				}
				return
			}
			tracker.observe(n)
		})
	})
}

// subscribeHeads feeds newHeads notifications to fn until ctx ends (nil) or
// the subscription fails (the error, after which callers fall back to polling).
func subscribeHeads(ctx context.Context, src Source, fn func(*evm.Head)) error {
	heads := make(chan *evm.Head, 16)
	sub, err := src.SubscribeNewHeads(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return err
		case h := <-heads:
			if ctx.Err() != nil {
				return nil
			}
			fn(h)
		}
	}
}
