package main

import (
	"encoding/json"
	"fmt"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// callFlags builds an evm.CallRequest from an optional JSON file overlaid with flags.
type callFlags struct {
	request string
	from    string
	to      string
	data    string
	value   string
	gas     string
	block   string
}

func (f *callFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.request, "request", "", "JSON call request file (- for stdin)")
	fs.StringVar(&f.from, "from", "", "sender address")
	fs.StringVar(&f.to, "to", "", "recipient or contract address")
	fs.StringVar(&f.data, "data", "", "hex calldata")
	fs.StringVar(&f.value, "value", "", "wei to send (decimal or 0x-hex)")
	fs.StringVar(&f.gas, "gas", "", "gas limit")
	blockFlag(cmd, &f.block)
}

func (f *callFlags) build(cmd *cobra.Command) (evm.CallRequest, error) {
	var req evm.CallRequest
	if f.request != "" {
		b, err := readInput(cmd, f.request)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(b, &req); err != nil {
			return req, fmt.Errorf("parse %s: %w", f.request, err)
		}
	}
	overlay := map[string]string{}
	for k, v := range map[string]string{
		"from": f.from, "to": f.to, "data": f.data, "value": f.value, "gas": f.gas, "block": f.block,
	} {
		if v != "" {
			overlay[k] = v
		}
	}
	if len(overlay) == 0 {
		return req, nil
	}
	b, err := json.Marshal(overlay)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(b, &req); err != nil {
		return req, fmt.Errorf("invalid call flags: %w", err)
	}
	return req, nil
}

func (a *app) callCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Execute a message call without creating a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.build(cmd)
			if err != nil {
				return err
			}
			out, err := a.client.Call(cmd.Context(), req.Params())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"result": hexutil.Encode(out)})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) estimateGasCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "estimate-gas",
		Short: "Estimate the gas a transaction would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.build(cmd)
			if err != nil {
				return err
			}
			gas, err := a.client.EstimateGas(cmd.Context(), req.Params())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]uint64{"gas": gas})
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) accessListCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "access-list",
		Short: "Create an EIP-2930 access list for a call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.build(cmd)
			if err != nil {
				return err
			}
			res, err := a.client.CreateAccessList(cmd.Context(), req.Params())
			if err != nil {
				return err
			}
			return a.print(cmd, res)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <request.json>",
		Short: "Simulate blocks of calls with eth_simulateV1",
		Long:  "simulate reads a JSON document {blocks:[{calls,stateOverrides,blockOverrides}], block, validation, traceTransfers, returnFullTransactions}; use - for stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var req evm.SimulateRequest
			if err := json.Unmarshal(b, &req); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			blocks, err := a.client.SimulateBlocks(cmd.Context(), req.Params())
			if err != nil {
				return err
			}
			return a.print(cmd, blocks)
		},
	}
}
