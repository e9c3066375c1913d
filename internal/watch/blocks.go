package watch

import (
	"context"
	"math/big"
	"time"

	"evm-public-client/internal/evm"
)

type BlocksOptions struct {
	// OnBlock receives each new block and the previously emitted one.
	OnBlock func(block, prev *evm.Block)
	OnError func(error)
	// BlockTag is polled each interval. Defaults to latest.
	BlockTag            evm.BlockTag
	IncludeTransactions bool
	EmitMissed          bool
	EmitOnBegin         bool
	Poll                *bool
	PollingInterval     time.Duration
}

type blockTracker struct {
	src     Source
	opts    BlocksOptions
	prev    *evm.Block
	stopped func() bool
}

func (t *blockTracker) emit(b *evm.Block) {
	t.opts.OnBlock(b, t.prev)
	t.prev = b
}

// observe applies the emission rule. Pending blocks have no number and are
// emitted every time they are seen.
func (t *blockTracker) observe(ctx context.Context, b *evm.Block) error {
	if b == nil {
		return nil
	}
	if b.Number == nil {
		if t.opts.BlockTag == evm.TagPending && !t.stopped() {
			t.emit(b)
		}
		return nil
	}
	if t.prev != nil && t.prev.Number != nil {
		switch b.Number.Cmp(t.prev.Number) {
		case 0:
			return nil
		case 1:
			if t.opts.EmitMissed {
				next := new(big.Int).Add(t.prev.Number, big.NewInt(1))
				for ; next.Cmp(b.Number) < 0; next.Add(next, big.NewInt(1)) {
					missed, err := t.src.GetBlock(ctx, evm.GetBlockParams{
						Block:               evm.AtNumber(next.Uint64()),
						IncludeTransactions: t.opts.IncludeTransactions,
					})
					if err != nil {
						return err
					}
					if t.stopped() {
						return nil
					}
					t.emit(missed)
				}
			}
		}
	}
	if t.prev == nil || t.prev.Number == nil || b.Number.Cmp(t.prev.Number) > 0 {
		if t.stopped() {
			return nil
		}
		t.emit(b)
	}
	return nil
}

// WatchBlocks reports new blocks at the configured tag.
func WatchBlocks(ctx context.Context, src Source, opts BlocksOptions) Unwatch {
	if opts.BlockTag == "" {
		opts.BlockTag = evm.TagLatest
	}
	every := interval(src, opts.PollingInterval)
	polling := usePolling(src, opts.Poll, "watchBlocks")

	return start(ctx, func(ctx context.Context) {
		tracker := &blockTracker{src: src, opts: opts, stopped: func() bool { return ctx.Err() != nil }}
		report := func(err error) {
			if ctx.Err() == nil {
				reportError("watchBlocks", opts.OnError, err)
			}
		}

		if !polling {
			err := subscribeHeads(ctx, src, func(h *evm.Head) {
				b, err := src.GetBlock(ctx, evm.GetBlockParams{
					Block:               evm.AtHash(h.Hash),
					IncludeTransactions: opts.IncludeTransactions,
				})
				if err != nil {
					report(err)
					return
				}
				if err := tracker.observe(ctx, b); err != nil {
					report(err)
				}
			})
			if err == nil || ctx.Err() != nil {
				return
			}
			report(err)
		}

		poll(ctx, every, opts.EmitOnBegin, func(ctx context.Context) {
			b, err := src.GetBlock(ctx, evm.GetBlockParams{
				Block:               evm.AtTag(opts.BlockTag),
				IncludeTransactions: opts.IncludeTransactions,
			})
			if err != nil {
				report(err)
				return
			}
			if err := tracker.observe(ctx, b); err != nil {
				report(err)
			}
		})
	})
}
