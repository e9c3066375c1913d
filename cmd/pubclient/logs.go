package main

import (
	"os"
	"strings"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
)

type logFlags struct {
	addresses []string
	eventABI  string
	fromBlock string
	toBlock   string
	blockHash string
}

func (f *logFlags) register(cmd *cobra.Command, withRange bool) {
	fs := cmd.Flags()
	fs.StringSliceVar(&f.addresses, "address", nil, "emitting contract addresses")
	fs.StringVar(&f.eventABI, "event-abi", "", "JSON ABI with one event, or @file")
	if withRange {
		fs.StringVar(&f.fromBlock, "from-block", "", "first block (number or tag)")
		fs.StringVar(&f.toBlock, "to-block", "", "last block (number or tag)")
		fs.StringVar(&f.blockHash, "block-hash", "", "restrict to one block by hash")
	}
}

func (f *logFlags) filter() (evm.LogFilter, error) {
	var req evm.LogFilterRequest
	for _, s := range f.addresses {
		addr, err := parseAddress(strings.TrimSpace(s))
		if err != nil {
			return evm.LogFilter{}, err
		}
		req.Address = append(req.Address, addr)
	}
	req.EventABI = f.eventABI
	if strings.HasPrefix(f.eventABI, "@") {
		b, err := os.ReadFile(f.eventABI[1:])
		if err != nil {
			return evm.LogFilter{}, err
		}
		req.EventABI = string(b)
	}
	var err error
	if req.FromBlock, err = evm.ParseBlockSelector(f.fromBlock); err != nil {
		return evm.LogFilter{}, err
	}
	if req.ToBlock, err = evm.ParseBlockSelector(f.toBlock); err != nil {
		return evm.LogFilter{}, err
	}
	if f.blockHash != "" {
		h, err := parseHash(f.blockHash)
		if err != nil {
			return evm.LogFilter{}, err
		}
		req.BlockHash = &h
	}
	return req.Filter()
}

// Log is a named field so types.Log's MarshalJSON is not promoted.
type decodedLog struct {
	Log   types.Log              `json:"log"`
	Event string                 `json:"event,omitempty"`
	Args  map[string]interface{} `json:"args,omitempty"`
}

func decodeLogs(f evm.LogFilter, logs []types.Log) []decodedLog {
	out := make([]decodedLog, len(logs))
	for i, l := range logs {
		out[i].Log = l
		if f.Event == nil {
			continue
		}
		if args, err := evm.DecodeEventLog(f.Event, l); err == nil {
			out[i].Event = f.Event.Name
			out[i].Args = args
		}
	}
	return out
}

func (a *app) logsCmd() *cobra.Command {
	var f logFlags
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query event logs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter()
			if err != nil {
				return err
			}
			logs, err := a.client.GetLogs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return a.print(cmd, decodeLogs(filter, logs))
		},
	}
	f.register(cmd, true)
	return cmd
}
