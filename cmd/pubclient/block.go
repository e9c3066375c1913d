package main

import (
	"fmt"
	"time"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func optionalSelector(args []string) (evm.BlockSelector, error) {
	if len(args) == 0 {
		return evm.BlockSelector{}, nil
	}
	return evm.ParseBlockSelector(args[0])
}

func (a *app) blockCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "block [number|hash|tag]",
		Short: "Get a block (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := optionalSelector(args)
			if err != nil {
				return err
			}
			b, err := a.client.GetBlock(cmd.Context(), evm.GetBlockParams{Block: sel, IncludeTransactions: full})
			if err != nil {
				return err
			}
			return a.print(cmd, b)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include full transaction objects")
	return cmd
}

func (a *app) blockNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block-number",
		Short: "Get the latest block number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fresh := time.Duration(0)
			n, err := a.client.GetBlockNumber(cmd.Context(), evm.GetBlockNumberParams{CacheTime: &fresh})
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]uint64{"block_number": n})
		},
	}
}

func (a *app) blockTxCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "block-tx-count [number|hash|tag]",
		Short: "Count the transactions in a block",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := optionalSelector(args)
			if err != nil {
				return err
			}
			n, err := a.client.GetBlockTransactionCount(cmd.Context(), sel)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]interface{}{"block": sel.String(), "transaction_count": n})
		},
	}
}

func (a *app) txCmd() *cobra.Command {
	var block string
	var index int64
	cmd := &cobra.Command{
		Use:   "tx [hash]",
		Short: "Get a transaction by hash, or by --block and --index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p evm.GetTransactionParams
			if len(args) == 1 {
				h, err := parseHash(args[0])
				if err != nil {
					return err
				}
				p.Hash = &h
			}
			if index >= 0 {
				i := uint64(index)
				p.Index = &i
				sel, err := evm.ParseBlockSelector(block)
				if err != nil {
					return err
				}
				p.Block = sel
			}
			tx, err := a.client.GetTransaction(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(cmd, tx)
		},
	}
	blockFlag(cmd, &block)
	cmd.Flags().Int64Var(&index, "index", -1, "transaction index within --block")
	return cmd
}

func (a *app) receiptCmd() *cobra.Command {
	var (
		wait          bool
		confirmations uint64
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "receipt <hash>",
		Short: "Get a transaction receipt, optionally waiting for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHash(args[0])
			if err != nil {
				return err
			}
			if !wait {
				r, err := a.client.GetTransactionReceipt(cmd.Context(), h)
				if err != nil {
					return err
				}
				return a.print(cmd, r)
			}
			r, err := a.client.WaitForTransactionReceipt(cmd.Context(), evm.WaitForTransactionReceiptParams{
				Hash:          h,
				Confirmations: confirmations,
				Timeout:       timeout,
				OnReplaced: func(rep evm.Replacement) {
					cmd.PrintErrf("transaction %s: %s by %s\n", h.Hex(), rep.Reason, rep.Transaction.Hash.Hex())
				},
			})
			if err != nil {
				return err
			}
			return a.print(cmd, r)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the receipt is available")
	cmd.Flags().Uint64Var(&confirmations, "confirmations", 1, "blocks to wait for when --wait is set")
	cmd.Flags().DurationVar(&timeout, "wait-timeout", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}

func (a *app) confirmationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirmations <hash>",
		Short: "Count the blocks confirming a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseHash(args[0])
			if err != nil {
				return err
			}
			n, err := a.client.GetTransactionConfirmations(cmd.Context(), h)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]interface{}{"hash": h.Hex(), "confirmations": n})
		},
	}
}
