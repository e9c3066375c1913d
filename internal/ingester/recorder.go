package ingester

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/models"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// Store persists observations. *repository.Repository implements it.
type Store interface {
	UpsertBlocks(ctx context.Context, blocks []models.ObservedBlock) error
	InsertLogs(ctx context.Context, logs []models.ObservedLog) error
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SaveCheckpoint(ctx context.Context, name string, number uint64) error
	RollbackFromNumber(ctx context.Context, number uint64) error
}

// BlockSource is what the recorder reads from the node during backfill.
type BlockSource interface {
	GetBlockNumber(ctx context.Context, p evm.GetBlockNumberParams) (uint64, error)
	GetBlock(ctx context.Context, p evm.GetBlockParams) (*evm.Block, error)
	GetLogs(ctx context.Context, f evm.LogFilter) ([]types.Log, error)
}

type RecorderConfig struct {
	ServiceName string
	// MaxBackfill bounds how many missed blocks are fetched on startup.
	MaxBackfill uint64
	BatchSize   int
	WorkerCount int
	// LogFilter, when set, is also backfilled with eth_getLogs.
	LogFilter *evm.LogFilter
}

// Recorder persists blocks and logs published on the bus and keeps a
// checkpoint so a restart can fill the gap.
type Recorder struct {
	store  Store
	bus    *eventbus.Bus
	src    BlockSource
	config RecorderConfig
}

func NewRecorder(store Store, bus *eventbus.Bus, src BlockSource, cfg RecorderConfig) *Recorder {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "blocks"
	}
	if cfg.MaxBackfill == 0 {
		cfg.MaxBackfill = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 8
	}
	return &Recorder{store: store, bus: bus, src: src, config: cfg}
}

// backfillRange picks the blocks missed since checkpoint, keeping at most max
// of the newest. ok is false when nothing is missing or there is no checkpoint.
func backfillRange(checkpoint, head, max uint64) (from, to uint64, ok bool) {
	if checkpoint == 0 || head <= checkpoint {
		return 0, 0, false
	}
	from = checkpoint + 1
	if head-checkpoint > max {
		from = head - max + 1
	}
	return from, head, true
}

// Backfill records blocks between the saved checkpoint and the current head.
func (r *Recorder) Backfill(ctx context.Context) error {
	checkpoint, err := r.store.GetCheckpoint(ctx, r.config.ServiceName)
	if err != nil {
		return fmt.Errorf("backfill: read checkpoint: %w", err)
	}
	fresh := time.Duration(0)
	head, err := r.src.GetBlockNumber(ctx, evm.GetBlockNumberParams{CacheTime: &fresh})
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if checkpoint > head {
		log.Printf("[recorder] checkpoint %d is ahead of node head %d, rolling back", checkpoint, head)
		if err := r.store.RollbackFromNumber(ctx, head+1); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		return nil
	}
	from, to, ok := backfillRange(checkpoint, head, r.config.MaxBackfill)
	if !ok {
		return nil
	}
	if from > checkpoint+1 {
		log.Printf("[recorder] gap of %d blocks exceeds max backfill, skipping to %d", head-checkpoint, from)
	}
	log.Printf("[recorder] backfilling blocks %d..%d", from, to)
	return r.backfillBlocks(ctx, from, to)
}

func (r *Recorder) backfillBlocks(ctx context.Context, from, to uint64) error {
	for start := from; start <= to; start += uint64(r.config.BatchSize) {
		end := start + uint64(r.config.BatchSize) - 1
		if end > to {
			end = to
		}
		if err := r.backfillBatch(ctx, start, end); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) backfillBatch(ctx context.Context, start, end uint64) error {
	blocks := make([]models.ObservedBlock, end-start+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.WorkerCount)
	for n := start; n <= end; n++ {
		n := n
		g.Go(func() error {
			b, err := r.src.GetBlock(gctx, evm.GetBlockParams{Block: evm.AtNumber(n)})
			if err != nil {
				return fmt.Errorf("backfill block %d: %w", n, err)
			}
			blocks[n-start] = ObservedBlockFrom(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := r.store.UpsertBlocks(ctx, blocks); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	if r.config.LogFilter != nil {
		f := *r.config.LogFilter
		f.BlockHash = nil
		f.FromBlock, f.ToBlock = evm.AtNumber(start), evm.AtNumber(end)
		logs, err := r.src.GetLogs(ctx, f)
		if err != nil {
			return fmt.Errorf("backfill logs %d..%d: %w", start, end, err)
		}
		if err := r.store.InsertLogs(ctx, ObservedLogsFrom(logs)); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
	}
	return r.store.SaveCheckpoint(ctx, r.config.ServiceName, end)
}

// Run subscribes to the bus, backfills from the checkpoint, then records
// events until ctx is done. Events published during the backfill stay queued
// on the subscription.
func (r *Recorder) Run(ctx context.Context) {
	blocks, logs, unsubscribe := r.subscribe()
	defer unsubscribe()
	if err := r.Backfill(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[recorder] Backfill failed: %v", err)
	}
	r.consume(ctx, blocks, logs)
}

// Start consumes block and log events until ctx is done.
func (r *Recorder) Start(ctx context.Context) {
	blocks, logs, unsubscribe := r.subscribe()
	defer unsubscribe()
	r.consume(ctx, blocks, logs)
}

func (r *Recorder) subscribe() (blocks, logs chan eventbus.Event, unsubscribe func()) {
	blocks = make(chan eventbus.Event, 256)
	logs = make(chan eventbus.Event, 256)
	r.bus.Subscribe(eventbus.TypeBlock, blocks)
	r.bus.Subscribe(eventbus.TypeLogs, logs)
	return blocks, logs, func() {
		r.bus.Unsubscribe(eventbus.TypeBlock, blocks)
		r.bus.Unsubscribe(eventbus.TypeLogs, logs)
	}
}

func (r *Recorder) consume(ctx context.Context, blocks, logs <-chan eventbus.Event) {
	log.Printf("[recorder] Starting (checkpoint %q)", r.config.ServiceName)
	for {
		select {
		case <-ctx.Done():
			log.Println("[recorder] Stopping")
			return
		case evt := <-blocks:
			if err := r.recordBlock(ctx, evt); err != nil {
				log.Printf("[recorder] block %d: %v", evt.Block, err)
			}
		case evt := <-logs:
			if err := r.recordLogs(ctx, evt); err != nil {
				log.Printf("[recorder] logs at %d: %v", evt.Block, err)
			}
		}
	}
}

// recordBlock stores a published block. Blocks between the checkpoint and
// this one that never arrived on the bus are fetched first, so the
// checkpoint never moves past a hole.
func (r *Recorder) recordBlock(ctx context.Context, evt eventbus.Event) error {
	b, ok := evt.Data.(*evm.Block)
	if !ok || b == nil || b.Number == nil || b.Hash == nil {
		return nil
	}
	number := b.Number.Uint64()

	if number > 0 {
		checkpoint, err := r.store.GetCheckpoint(ctx, r.config.ServiceName)
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		if from, to, ok := backfillRange(checkpoint, number-1, r.config.MaxBackfill); ok {
			log.Printf("[recorder] missed blocks %d..%d, fetching", from, to)
			if err := r.backfillBlocks(ctx, from, to); err != nil {
				return err
			}
		}
	}

	if err := r.store.UpsertBlocks(ctx, []models.ObservedBlock{ObservedBlockFrom(b)}); err != nil {
		return err
	}
	return r.store.SaveCheckpoint(ctx, r.config.ServiceName, number)
}

func (r *Recorder) recordLogs(ctx context.Context, evt eventbus.Event) error {
	logs, ok := evt.Data.([]types.Log)
	if !ok || len(logs) == 0 {
		return nil
	}
	return r.store.InsertLogs(ctx, ObservedLogsFrom(logs))
}

// ObservedBlockFrom converts a mined block to its stored form.
func ObservedBlockFrom(b *evm.Block) models.ObservedBlock {
	out := models.ObservedBlock{
		ParentHash: b.ParentHash.Hex(),
		Timestamp:  b.Time(),
		GasUsed:    b.GasUsed,
		GasLimit:   b.GasLimit,
		TxCount:    b.TransactionCount(),
	}
	if b.Number != nil {
		out.Number = b.Number.Uint64()
	}
	if b.Hash != nil {
		out.Hash = b.Hash.Hex()
	}
	if b.Miner != nil {
		out.Miner = b.Miner.Hex()
	}
	if b.BaseFeePerGas != nil {
		out.BaseFeePerGas = b.BaseFeePerGas.String()
	}
	return out
}

// ObservedLogsFrom converts logs to their stored form, ordered by block and index.
func ObservedLogsFrom(logs []types.Log) []models.ObservedLog {
	out := make([]models.ObservedLog, 0, len(logs))
	for _, l := range logs {
		topics := make([]string, len(l.Topics))
		for i, t := range l.Topics {
			topics[i] = t.Hex()
		}
		out = append(out, models.ObservedLog{
			BlockNumber: l.BlockNumber,
			BlockHash:   l.BlockHash.Hex(),
			TxHash:      l.TxHash.Hex(),
			TxIndex:     l.TxIndex,
			LogIndex:    l.Index,
			Address:     l.Address.Hex(),
			Topics:      topics,
			Data:        hexutil.Encode(l.Data),
			Removed:     l.Removed,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out
}
