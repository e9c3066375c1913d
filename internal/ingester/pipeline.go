package ingester

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/watch"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockNumberChange is the payload of block.number events.
type BlockNumberChange struct {
	Number   uint64  `json:"number"`
	Previous *uint64 `json:"previous,omitempty"`
}

type PipelineConfig struct {
	WatchBlocks         bool
	WatchPending        bool
	IncludeTransactions bool
	LogFilter           *evm.LogFilter
	Poll                *bool
	PollingInterval     time.Duration
}

// Pipeline runs the configured watchers and publishes what they see on the bus.
type Pipeline struct {
	src    watch.Source
	bus    *eventbus.Bus
	config PipelineConfig

	head     atomic.Uint64
	lastSeen atomic.Int64
	errors   atomic.Uint64
}

func NewPipeline(src watch.Source, bus *eventbus.Bus, cfg PipelineConfig) *Pipeline {
	return &Pipeline{src: src, bus: bus, config: cfg}
}

// Head returns the latest block number observed, zero before the first one.
func (p *Pipeline) Head() uint64 {
	return p.head.Load()
}

// LastSeen returns when the head last advanced.
func (p *Pipeline) LastSeen() time.Time {
	ns := p.lastSeen.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// Errors counts watcher failures since start.
func (p *Pipeline) Errors() uint64 {
	return p.errors.Load()
}

func (p *Pipeline) onError(name string) func(error) {
	return func(err error) {
		p.errors.Add(1)
		log.Printf("[pipeline] %s: %v", name, err)
	}
}

// Start runs until ctx is done, then stops every watcher.
func (p *Pipeline) Start(ctx context.Context) {
	log.Printf("[pipeline] Starting (blocks=%t pending=%t logs=%t)",
		p.config.WatchBlocks, p.config.WatchPending, p.config.LogFilter != nil)

	unwatches := []watch.Unwatch{
		watch.WatchBlockNumber(ctx, p.src, watch.BlockNumberOptions{
			OnBlockNumber: func(n uint64, prev *uint64) {
				p.head.Store(n)
				p.lastSeen.Store(time.Now().UnixNano())
				p.bus.Publish(eventbus.Event{
					Type:  eventbus.TypeBlockNumber,
					Block: n,
					Data:  BlockNumberChange{Number: n, Previous: prev},
				})
			},
			OnError:         p.onError("block number"),
			EmitMissed:      true,
			EmitOnBegin:     true,
			Poll:            p.config.Poll,
			PollingInterval: p.config.PollingInterval,
		}),
	}

	if p.config.WatchBlocks {
		unwatches = append(unwatches, watch.WatchBlocks(ctx, p.src, watch.BlocksOptions{
			OnBlock: func(b, _ *evm.Block) {
				var n uint64
				if b.Number != nil {
					n = b.Number.Uint64()
				}
				p.bus.Publish(eventbus.Event{Type: eventbus.TypeBlock, Block: n, Timestamp: b.Time(), Data: b})
			},
			OnError:             p.onError("blocks"),
			IncludeTransactions: p.config.IncludeTransactions,
			EmitMissed:          true,
			Poll:                p.config.Poll,
			PollingInterval:     p.config.PollingInterval,
		}))
	}

	if p.config.LogFilter != nil {
		unwatches = append(unwatches, watch.WatchEvent(ctx, p.src, watch.EventOptions{
			Filter: *p.config.LogFilter,
			OnLogs: func(logs []types.Log) {
				p.bus.Publish(eventbus.Event{Type: eventbus.TypeLogs, Block: logs[0].BlockNumber, Data: logs})
			},
			OnError:         p.onError("logs"),
			Poll:            p.config.Poll,
			PollingInterval: p.config.PollingInterval,
		}))
	}

	if p.config.WatchPending {
		unwatches = append(unwatches, watch.WatchPendingTransactions(ctx, p.src, watch.PendingTransactionsOptions{
			OnTransactions: func(hashes []common.Hash) {
				p.bus.Publish(eventbus.Event{Type: eventbus.TypePendingTx, Data: hashes})
			},
			OnError:         p.onError("pending transactions"),
			Poll:            p.config.Poll,
			PollingInterval: p.config.PollingInterval,
		}))
	}

	<-ctx.Done()
	for _, unwatch := range unwatches {
		unwatch()
	}
	log.Println("[pipeline] Stopping")
}
