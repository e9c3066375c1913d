package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"evm-public-client/internal/evm"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchCase struct {
	name string
	run  func(ctx context.Context) (string, error)
}

type benchResult struct {
	Name   string   `json:"name"`
	Rounds int      `json:"rounds"`
	Failed int      `json:"failed"`
	Min    string   `json:"min"`
	Median string   `json:"median"`
	Max    string   `json:"max"`
	Detail string   `json:"detail,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func summarize(name string, durations []time.Duration, detail string, errs []string) benchResult {
	res := benchResult{Name: name, Rounds: len(durations) + len(errs), Failed: len(errs), Detail: detail}
	if len(errs) > 3 {
		errs = errs[:3]
	}
	res.Errors = errs
	if len(durations) == 0 {
		return res
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	res.Min = durations[0].String()
	res.Median = durations[len(durations)/2].String()
	res.Max = durations[len(durations)-1].String()
	return res
}

// benchCases measures the request patterns the watchers and the recorder rely on.
func (a *app) benchCases(height uint64, span uint64) []benchCase {
	fresh := time.Duration(0)
	return []benchCase{
		{"eth_blockNumber", func(ctx context.Context) (string, error) {
			n, err := a.client.GetBlockNumber(ctx, evm.GetBlockNumberParams{CacheTime: &fresh})
			return fmt.Sprintf("head=%d", n), err
		}},
		{"eth_getBlockByNumber (hashes)", func(ctx context.Context) (string, error) {
			b, err := a.client.GetBlock(ctx, evm.GetBlockParams{Block: evm.AtNumber(height)})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("txs=%d", b.TransactionCount()), nil
		}},
		{"eth_getBlockByNumber (full)", func(ctx context.Context) (string, error) {
			b, err := a.client.GetBlock(ctx, evm.GetBlockParams{Block: evm.AtNumber(height), IncludeTransactions: true})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("txs=%d", b.TransactionCount()), nil
		}},
		{"eth_getLogs (one block)", func(ctx context.Context) (string, error) {
			logs, err := a.client.GetLogs(ctx, evm.LogFilter{FromBlock: evm.AtNumber(height), ToBlock: evm.AtNumber(height)})
			return fmt.Sprintf("logs=%d", len(logs)), err
		}},
		{fmt.Sprintf("%d consecutive blocks (parallel)", span), func(ctx context.Context) (string, error) {
			g, gctx := errgroup.WithContext(ctx)
			for i := uint64(0); i < span; i++ {
				n := height - i
				g.Go(func() error {
					_, err := a.client.GetBlock(gctx, evm.GetBlockParams{Block: evm.AtNumber(n)})
					return err
				})
			}
			return "", g.Wait()
		}},
	}
}

func (a *app) benchCmd() *cobra.Command {
	var (
		rounds int
		height uint64
		span   uint64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure node latency for common read patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if rounds < 1 {
				return fmt.Errorf("--rounds must be at least 1")
			}
			if height == 0 {
				head, err := a.client.GetBlockNumber(ctx, evm.GetBlockNumberParams{})
				if err != nil {
					return err
				}
				height = head
			}
			if span > height+1 {
				span = height + 1
			}

			var results []benchResult
			for _, bc := range a.benchCases(height, span) {
				var (
					durations []time.Duration
					errs      []string
					detail    string
				)
				for i := 0; i < rounds; i++ {
					t0 := time.Now()
					d, err := bc.run(ctx)
					elapsed := time.Since(t0)
					if err != nil {
						errs = append(errs, err.Error())
						continue
					}
					durations = append(durations, elapsed)
					detail = d
				}
				res := summarize(bc.name, durations, detail, errs)
				cmd.PrintErrf("%-36s ok=%d fail=%d median=%s\n", res.Name, len(durations), res.Failed, res.Median)
				results = append(results, res)
			}
			return a.print(cmd, map[string]interface{}{
				"chain":   a.client.Chain().Name,
				"height":  height,
				"results": results,
			})
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 5, "repetitions per request pattern")
	cmd.Flags().Uint64Var(&height, "height", 0, "block to read (default the current head)")
	cmd.Flags().Uint64Var(&span, "span", 5, "blocks fetched by the parallel pattern")
	return cmd
}
