package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"evm-public-client/internal/evm"
	"evm-public-client/internal/watch"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

// streamer prints one compact JSON line per emission and stops the command
// once count emissions have been printed (count 0 streams until interrupted).
type streamer struct {
	cmd    *cobra.Command
	count  int
	cancel context.CancelFunc

	mu      sync.Mutex
	emitted int
	err     error
}

func newStreamer(cmd *cobra.Command, count int) (*streamer, context.Context) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	s := &streamer{cmd: cmd, count: count, cancel: func() { cancel(); stop() }}
	return s, ctx
}

func (s *streamer) emit(v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || (s.count > 0 && s.emitted >= s.count) {
		return
	}
	if err := writeJSON(s.cmd, v, true); err != nil {
		s.err = err
		s.cancel()
		return
	}
	s.emitted++
	if s.count > 0 && s.emitted >= s.count {
		s.cancel()
	}
}

func (s *streamer) onError(err error) {
	s.cmd.PrintErrln("watch error:", err)
}

// wait blocks until the stream ends, then stops the watcher.
func (s *streamer) wait(ctx context.Context, unwatch watch.Unwatch) error {
	<-ctx.Done()
	unwatch()
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func pollFlag(cmd *cobra.Command, target *bool) {
	cmd.Flags().BoolVar(target, "poll", false, "force polling even when the transport can subscribe")
}

func pollOption(cmd *cobra.Command, poll bool) *bool {
	if cmd.Flags().Changed("poll") {
		return watch.Bool(poll)
	}
	return nil
}

func (a *app) watchBlocksCmd() *cobra.Command {
	var (
		full, poll, missed bool
		count              int
	)
	cmd := &cobra.Command{
		Use:   "watch-blocks",
		Short: "Stream new blocks as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx := newStreamer(cmd, count)
			unwatch := watch.WatchBlocks(ctx, a.client, watch.BlocksOptions{
				OnBlock:             func(b, _ *evm.Block) { s.emit(b) },
				OnError:             s.onError,
				IncludeTransactions: full,
				EmitMissed:          missed,
				EmitOnBegin:         true,
				Poll:                pollOption(cmd, poll),
				PollingInterval:     a.pollingInterval,
			})
			return s.wait(ctx, unwatch)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include full transaction objects")
	cmd.Flags().BoolVar(&missed, "emit-missed", false, "fetch blocks skipped between polls")
	pollFlag(cmd, &poll)
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many blocks")
	return cmd
}

func (a *app) watchPendingCmd() *cobra.Command {
	var (
		poll, unbatched bool
		count           int
	)
	cmd := &cobra.Command{
		Use:   "watch-pending",
		Short: "Stream pending transaction hashes as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, ctx := newStreamer(cmd, count)
			unwatch := watch.WatchPendingTransactions(ctx, a.client, watch.PendingTransactionsOptions{
				OnTransactions: func(hashes []common.Hash) {
					if unbatched {
						s.emit(hashes[0])
						return
					}
					s.emit(hashes)
				},
				OnError:         s.onError,
				Batch:           watch.Bool(!unbatched),
				Poll:            pollOption(cmd, poll),
				PollingInterval: a.pollingInterval,
			})
			return s.wait(ctx, unwatch)
		},
	}
	pollFlag(cmd, &poll)
	cmd.Flags().BoolVar(&unbatched, "unbatched", false, "print one hash per line")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many lines")
	return cmd
}

func (a *app) watchEventsCmd() *cobra.Command {
	var (
		f     logFlags
		poll  bool
		count int
	)
	cmd := &cobra.Command{
		Use:   "watch-events",
		Short: "Stream matching event logs as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			s, ctx := newStreamer(cmd, count)
			unwatch := watch.WatchEvent(ctx, a.client, watch.EventOptions{
				Filter: filter,
				OnLogs: func(logs []types.Log) {
					for _, l := range decodeLogs(filter, logs) {
						s.emit(l)
					}
				},
				OnError:         s.onError,
				Batch:           watch.Bool(false),
				Poll:            pollOption(cmd, poll),
				PollingInterval: a.pollingInterval,
			})
			return s.wait(ctx, unwatch)
		},
	}
	f.register(cmd, false)
	pollFlag(cmd, &poll)
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many logs")
	return cmd
}
