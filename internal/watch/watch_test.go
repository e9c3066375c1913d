package watch

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"evm-public-client/internal/evm"
	"evm-public-client/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const tick = 5 * time.Millisecond

type fakeSub struct {
	err  chan error
	once sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{err: make(chan error, 1)}
}

func (s *fakeSub) Err() <-chan error { return s.err }

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.err) })
}

// fakeSource serves scripted sequences. The last element of a sequence
// repeats once the others are consumed.
type fakeSource struct {
	mu            sync.Mutex
	subscriptions bool

	numbers          []uint64
	blockNumberCalls int
	latest           []uint64
	blockRequests    []evm.BlockSelector

	filterErr    error
	filters      int
	uninstalled  int
	logChanges   [][]types.Log
	hashChanges  [][]common.Hash
	logsRequests []evm.LogFilter
	logs         []types.Log

	headsSub   *fakeSub
	heads      chan<- *evm.Head
	logsCh     chan<- types.Log
	pendingCh  chan<- common.Hash
	subscribed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{subscribed: make(chan struct{})}
}

func next(seq *[]uint64) uint64 {
	v := (*seq)[0]
	if len(*seq) > 1 {
		*seq = (*seq)[1:]
	}
	return v
}

func fakeBlock(n uint64) *evm.Block {
	h := common.BigToHash(new(big.Int).SetUint64(n))
	return &evm.Block{Number: new(big.Int).SetUint64(n), Hash: &h}
}

func (f *fakeSource) GetBlockNumber(ctx context.Context, p evm.GetBlockNumberParams) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockNumberCalls++
	return next(&f.numbers), nil
}

func (f *fakeSource) GetBlock(ctx context.Context, p evm.GetBlockParams) (*evm.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockRequests = append(f.blockRequests, p.Block)
	switch {
	case p.Block.Number != nil:
		return fakeBlock(p.Block.Number.Uint64()), nil
	case p.Block.Hash != nil:
		return fakeBlock(p.Block.Hash.Big().Uint64()), nil
	}
	return fakeBlock(next(&f.latest)), nil
}

func (f *fakeSource) GetLogs(ctx context.Context, filter evm.LogFilter) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsRequests = append(f.logsRequests, filter)
	return f.logs, nil
}

func (f *fakeSource) CreateEventFilter(ctx context.Context, filter evm.LogFilter) (*evm.Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	f.filters++
	return &evm.Filter{ID: "0x1", Kind: evm.FilterEvent}, nil
}

func (f *fakeSource) CreatePendingTransactionFilter(ctx context.Context) (*evm.Filter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters++
	return &evm.Filter{ID: "0x2", Kind: evm.FilterTransaction}, nil
}

func (f *fakeSource) GetFilterChanges(ctx context.Context, filter *evm.Filter) (*evm.FilterChanges, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &evm.FilterChanges{}
	if filter.Kind == evm.FilterEvent && len(f.logChanges) > 0 {
		out.Logs, f.logChanges = f.logChanges[0], f.logChanges[1:]
	}
	if filter.Kind == evm.FilterTransaction && len(f.hashChanges) > 0 {
		out.Hashes, f.hashChanges = f.hashChanges[0], f.hashChanges[1:]
	}
	return out, nil
}

func (f *fakeSource) UninstallFilter(ctx context.Context, filter *evm.Filter) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled++
	return true, nil
}

func (f *fakeSource) SupportsSubscriptions() bool { return f.subscriptions }

func (f *fakeSource) PollingInterval() time.Duration { return tick }

func (f *fakeSource) SubscribeNewHeads(ctx context.Context, ch chan<- *evm.Head) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads = ch
	f.headsSub = newFakeSub()
	close(f.subscribed)
	return f.headsSub, nil
}

func (f *fakeSource) SubscribeLogs(ctx context.Context, filter evm.LogFilter, ch chan<- types.Log) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsCh = ch
	close(f.subscribed)
	return newFakeSub(), nil
}

func (f *fakeSource) SubscribeNewPendingTransactions(ctx context.Context, ch chan<- common.Hash) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCh = ch
	close(f.subscribed)
	return newFakeSub(), nil
}

func (f *fakeSource) waitSubscribed(t *testing.T) {
	t.Helper()
	select {
	case <-f.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never subscribed")
	}
}

type emission struct {
	number uint64
	prev   *uint64
}

func collectNumbers(t *testing.T, ch <-chan emission, n int) []emission {
	t.Helper()
	out := make([]emission, 0, n)
	for len(out) < n {
		select {
		case e := <-ch:
			out = append(out, e)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d emissions, want %d", len(out), n)
		}
	}
	return out
}

func numbersOf(es []emission) []uint64 {
	out := make([]uint64, len(es))
	for i, e := range es {
		out[i] = e.number
	}
	return out
}

func TestWatchBlockNumberPollingEmitsMissed(t *testing.T) {
	src := newFakeSource()
	src.numbers = []uint64{10, 10, 11, 14}
	ch := make(chan emission, 32)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
		EmitMissed:    true,
		EmitOnBegin:   true,
	})
	defer unwatch()

	got := collectNumbers(t, ch, 5)
	require.Equal(t, []uint64{10, 11, 12, 13, 14}, numbersOf(got))
	require.Nil(t, got[0].prev)
	require.Equal(t, uint64(13), *got[4].prev)
}

func TestWatchBlockNumberPollingSkipsWithoutEmitMissed(t *testing.T) {
	src := newFakeSource()
	src.numbers = []uint64{10, 11, 14, 12}
	ch := make(chan emission, 32)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
	})
	defer unwatch()

	require.Equal(t, []uint64{10, 11, 14}, numbersOf(collectNumbers(t, ch, 3)))
	select {
	case e := <-ch:
		t.Fatalf("unexpected emission %d after head went backwards", e.number)
	case <-time.After(10 * tick):
	}
}

func TestWatchBlockNumberUnwatchStopsPolling(t *testing.T) {
	src := newFakeSource()
	src.numbers = []uint64{1}
	ch := make(chan emission, 32)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
		EmitOnBegin:   true,
	})
	collectNumbers(t, ch, 1)
	unwatch()
	unwatch()

	time.Sleep(2 * tick)
	src.mu.Lock()
	calls := src.blockNumberCalls
	src.mu.Unlock()
	time.Sleep(10 * tick)
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, calls, src.blockNumberCalls)
}

func TestWatchBlockNumberSubscription(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	ch := make(chan emission, 32)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
	})
	defer unwatch()
	src.waitSubscribed(t)

	for _, n := range []int64{5, 5, 6, 4, 7} {
		src.heads <- &evm.Head{Number: (*hexutil.Big)(big.NewInt(n))}
	}
	require.Equal(t, []uint64{5, 6, 7}, numbersOf(collectNumbers(t, ch, 3)))

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Zero(t, src.blockNumberCalls)
}

func TestWatchBlockNumberFallsBackAfterSubscriptionError(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	src.numbers = []uint64{20}
	ch := make(chan emission, 32)
	errs := make(chan error, 4)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
		OnError:       func(err error) { errs <- err },
	})
	defer unwatch()
	src.waitSubscribed(t)

	src.headsSub.err <- errors.New("connection reset")
	require.EqualError(t, <-errs, "connection reset")
	require.Equal(t, []uint64{20}, numbersOf(collectNumbers(t, ch, 1)))
}

func TestWatchBlockNumberForcedPolling(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	src.numbers = []uint64{3}
	ch := make(chan emission, 32)

	unwatch := WatchBlockNumber(context.Background(), src, BlockNumberOptions{
		OnBlockNumber: func(n uint64, prev *uint64) { ch <- emission{n, prev} },
		Poll:          Bool(true),
	})
	defer unwatch()

	require.Equal(t, []uint64{3}, numbersOf(collectNumbers(t, ch, 1)))
	select {
	case <-src.subscribed:
		t.Fatal("forced polling must not subscribe")
	default:
	}
}

func TestWatchBlocksPollingFetchesMissed(t *testing.T) {
	src := newFakeSource()
	src.latest = []uint64{7, 7, 10}
	blocks := make(chan *evm.Block, 32)

	unwatch := WatchBlocks(context.Background(), src, BlocksOptions{
		OnBlock:     func(b, prev *evm.Block) { blocks <- b },
		EmitMissed:  true,
		EmitOnBegin: true,
	})
	defer unwatch()

	var got []uint64
	for len(got) < 4 {
		select {
		case b := <-blocks:
			got = append(got, b.Number.Uint64())
		case <-time.After(2 * time.Second):
			t.Fatalf("got blocks %v", got)
		}
	}
	require.Equal(t, []uint64{7, 8, 9, 10}, got)
}

func TestWatchBlocksSubscriptionFetchesByHash(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	blocks := make(chan *evm.Block, 32)

	unwatch := WatchBlocks(context.Background(), src, BlocksOptions{
		OnBlock: func(b, prev *evm.Block) { blocks <- b },
	})
	defer unwatch()
	src.waitSubscribed(t)

	src.heads <- &evm.Head{Number: (*hexutil.Big)(big.NewInt(42)), Hash: common.BigToHash(big.NewInt(42))}
	select {
	case b := <-blocks:
		require.Equal(t, uint64(42), b.Number.Uint64())
	case <-time.After(2 * time.Second):
		t.Fatal("no block emitted")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	require.NotNil(t, src.blockRequests[0].Hash)
}

func TestWatchEventFilterUnbatched(t *testing.T) {
	src := newFakeSource()
	src.logChanges = [][]types.Log{{{BlockNumber: 1, Index: 0}, {BlockNumber: 1, Index: 1}}}
	calls := make(chan []types.Log, 8)

	unwatch := WatchEvent(context.Background(), src, EventOptions{
		OnLogs: func(logs []types.Log) { calls <- logs },
		Batch:  Bool(false),
	})

	for i := uint(0); i < 2; i++ {
		select {
		case logs := <-calls:
			require.Len(t, logs, 1)
			require.Equal(t, i, logs[0].Index)
		case <-time.After(2 * time.Second):
			t.Fatal("missing log delivery")
		}
	}
	unwatch()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.uninstalled == 1
	}, time.Second, tick)
}

func TestWatchEventFallsBackToGetLogs(t *testing.T) {
	src := newFakeSource()
	src.filterErr = errors.New("the method eth_newFilter does not exist")
	src.numbers = []uint64{100, 102}
	src.logs = []types.Log{{BlockNumber: 101}, {BlockNumber: 102}}
	calls := make(chan []types.Log, 8)

	unwatch := WatchEvent(context.Background(), src, EventOptions{
		Filter: evm.LogFilter{Addresses: []common.Address{{0x70}}},
		OnLogs: func(logs []types.Log) { calls <- logs },
	})
	defer unwatch()

	select {
	case logs := <-calls:
		require.Len(t, logs, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no logs delivered")
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	req := src.logsRequests[0]
	require.Equal(t, uint64(101), req.FromBlock.Number.Uint64())
	require.Equal(t, uint64(102), req.ToBlock.Number.Uint64())
	require.Equal(t, []common.Address{{0x70}}, req.Addresses)
}

func TestWatchEventSubscriptionSkipsRemoved(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	calls := make(chan []types.Log, 8)

	unwatch := WatchEvent(context.Background(), src, EventOptions{
		OnLogs: func(logs []types.Log) { calls <- logs },
	})
	defer unwatch()
	src.waitSubscribed(t)

	src.logsCh <- types.Log{BlockNumber: 5, Removed: true}
	src.logsCh <- types.Log{BlockNumber: 6}
	select {
	case logs := <-calls:
		require.Equal(t, uint64(6), logs[0].BlockNumber)
	case <-time.After(2 * time.Second):
		t.Fatal("no logs delivered")
	}
}

func TestWatchPendingTransactionsPolling(t *testing.T) {
	src := newFakeSource()
	a, b := common.Hash{0x0a}, common.Hash{0x0b}
	src.hashChanges = [][]common.Hash{{a, b}}
	calls := make(chan []common.Hash, 8)

	unwatch := WatchPendingTransactions(context.Background(), src, PendingTransactionsOptions{
		OnTransactions: func(hashes []common.Hash) { calls <- hashes },
	})
	defer unwatch()

	select {
	case hashes := <-calls:
		require.Equal(t, []common.Hash{a, b}, hashes)
	case <-time.After(2 * time.Second):
		t.Fatal("no hashes delivered")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	require.Equal(t, 1, src.filters)
}

func TestWatchPendingTransactionsSubscription(t *testing.T) {
	src := newFakeSource()
	src.subscriptions = true
	calls := make(chan []common.Hash, 8)

	unwatch := WatchPendingTransactions(context.Background(), src, PendingTransactionsOptions{
		OnTransactions: func(hashes []common.Hash) { calls <- hashes },
	})
	defer unwatch()
	src.waitSubscribed(t)

	src.pendingCh <- common.Hash{0x01}
	select {
	case hashes := <-calls:
		require.Equal(t, []common.Hash{{0x01}}, hashes)
	case <-time.After(2 * time.Second):
		t.Fatal("no hashes delivered")
	}
}
