// Command pubclient runs single public client actions against an EVM node
// and prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"evm-public-client/internal/chain"
	"evm-public-client/internal/config"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/transport"

	"github.com/spf13/cobra"
)

const offlineAnnotation = "offline"

// app holds the settings shared by every subcommand and the dialed client.
type app struct {
	cfg             *config.Config
	timeout         time.Duration
	pollingInterval time.Duration
	compact         bool

	client    *evm.PublicClient
	transport *transport.Transport
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	cfg.ApplyEnv()
	a := &app{
		cfg:             cfg,
		timeout:         time.Duration(cfg.RPCTimeoutMS) * time.Millisecond,
		pollingInterval: cfg.PollingInterval(),
	}

	root := &cobra.Command{
		Use:           "pubclient",
		Short:         "Read-only EVM node client",
		Long:          "pubclient issues public JSON-RPC actions (balances, blocks, calls, logs, fees, signatures) against an EVM node and prints JSON.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[offlineAnnotation] == "true" {
				return nil
			}
			return a.dial(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.transport != nil {
				a.transport.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.Chain, "chain", cfg.Chain, "chain name ("+fmt.Sprint(chain.Names())+")")
	pf.StringVar(&cfg.RPCURL, "rpc", cfg.RPCURL, "node URL (http, ws or ipc); defaults to the chain's public endpoint")
	pf.DurationVar(&a.timeout, "timeout", a.timeout, "per-request timeout")
	pf.IntVar(&cfg.RPCRetryCount, "retries", cfg.RPCRetryCount, "retries for transient failures")
	pf.StringVar(&cfg.RPCJWTSecretFile, "jwt-secret-file", cfg.RPCJWTSecretFile, "hex JWT secret for authenticated endpoints")
	pf.DurationVar(&a.pollingInterval, "polling-interval", a.pollingInterval, "interval for watchers and receipt polling (0 uses the chain block time)")
	pf.BoolVar(&a.compact, "compact", false, "print JSON on a single line")

	root.AddCommand(
		a.chainsCmd(),
		a.chainIDCmd(),
		a.balanceCmd(),
		a.nonceCmd(),
		a.codeCmd(),
		a.storageCmd(),
		a.proofCmd(),
		a.blockCmd(),
		a.blockNumberCmd(),
		a.blockTxCountCmd(),
		a.txCmd(),
		a.receiptCmd(),
		a.confirmationsCmd(),
		a.gasPriceCmd(),
		a.feesCmd(),
		a.feeHistoryCmd(),
		a.callCmd(),
		a.estimateGasCmd(),
		a.accessListCmd(),
		a.simulateCmd(),
		a.logsCmd(),
		a.verifyHashCmd(),
		a.verifyMessageCmd(),
		a.verifyTypedDataCmd(),
		a.watchBlocksCmd(),
		a.watchPendingCmd(),
		a.watchEventsCmd(),
		a.benchCmd(),
	)
	return root
}

func (a *app) dial(ctx context.Context) error {
	a.cfg.RPCTimeoutMS = int(a.timeout / time.Millisecond)
	a.cfg.PollingIntervalMS = int(a.pollingInterval / time.Millisecond)
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	ch, err := chain.Lookup(a.cfg.Chain)
	if err != nil {
		return err
	}
	url := a.cfg.NodeURL(ch)
	if url == "" {
		return fmt.Errorf("no RPC URL for chain %s; pass --rpc", ch.Name)
	}
	tc, err := a.cfg.Transport(url)
	if err != nil {
		return err
	}
	t, err := transport.Dial(ctx, tc)
	if err != nil {
		return err
	}
	a.transport = t
	a.client = evm.NewPublicClient(t, ch, evm.WithPollingInterval(a.cfg.PollingInterval()))
	return nil
}

func (a *app) print(cmd *cobra.Command, v interface{}) error {
	return writeJSON(cmd, v, a.compact)
}

func writeJSON(cmd *cobra.Command, v interface{}, compact bool) error {
	var (
		b   []byte
		err error
	)
	if compact {
		b, err = json.Marshal(v)
	} else {
		b, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// readInput reads a JSON document from a file, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func blockFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "block", "", "block number, hash or tag (default latest)")
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if execErr, ok := evm.AsExecutionError(err); ok && len(execErr.Data) > 0 {
			fmt.Fprintln(os.Stderr, "revert data:", execErr.Data)
		}
		os.Exit(1)
	}
}
