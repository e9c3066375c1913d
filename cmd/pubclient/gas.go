package main

import (
	"evm-public-client/internal/evm"

	"github.com/spf13/cobra"
)

func (a *app) gasPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gas-price",
		Short: "Get the current legacy gas price in wei",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.GetGasPrice(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"gas_price": p.String()})
		},
	}
}

func (a *app) feesCmd() *cobra.Command {
	var (
		feeType    string
		multiplier float64
	)
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Estimate fees per gas for the next block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fees, err := a.client.EstimateFeesPerGas(cmd.Context(), evm.EstimateFeesParams{
				Type:              evm.FeeType(feeType),
				BaseFeeMultiplier: multiplier,
			})
			if err != nil {
				return err
			}
			return a.print(cmd, fees)
		},
	}
	cmd.Flags().StringVar(&feeType, "type", "", "eip1559 or legacy (default eip1559)")
	cmd.Flags().Float64Var(&multiplier, "multiplier", 0, "base fee multiplier (default 1.2)")
	return cmd
}

func (a *app) feeHistoryCmd() *cobra.Command {
	var (
		blocks      uint64
		block       string
		percentiles []float64
	)
	cmd := &cobra.Command{
		Use:   "fee-history",
		Short: "Get base fees and priority fee percentiles for recent blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel, err := evm.ParseBlockSelector(block)
			if err != nil {
				return err
			}
			h, err := a.client.GetFeeHistory(cmd.Context(), evm.FeeHistoryParams{
				BlockCount:        blocks,
				Block:             sel,
				RewardPercentiles: percentiles,
			})
			if err != nil {
				return err
			}
			return a.print(cmd, h)
		},
	}
	cmd.Flags().Uint64Var(&blocks, "blocks", 4, "number of blocks")
	blockFlag(cmd, &block)
	cmd.Flags().Float64SliceVar(&percentiles, "percentiles", nil, "increasing reward percentiles, e.g. 25,50,75")
	return cmd
}
