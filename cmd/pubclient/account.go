package main

import (
	"fmt"
	"math/big"
	"strings"

	"evm-public-client/internal/chain"
	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseSlot(s string) (common.Hash, error) {
	if b, err := hexutil.Decode(s); err == nil && len(b) == common.HashLength {
		return common.BytesToHash(b), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("invalid storage slot %q", s)
	}
	return common.BigToHash(n), nil
}

func addressParams(address, block string) (evm.AddressParams, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return evm.AddressParams{}, err
	}
	sel, err := evm.ParseBlockSelector(block)
	if err != nil {
		return evm.AddressParams{}, err
	}
	return evm.AddressParams{Address: addr, Block: sel}, nil
}

func (a *app) chainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "chains",
		Short:       "List the known chains",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{offlineAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := make([]chain.Chain, 0)
			for _, name := range chain.Names() {
				c, err := chain.Lookup(name)
				if err != nil {
					return err
				}
				out = append(out, c)
			}
			return a.print(cmd, out)
		},
	}
}

func (a *app) chainIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain-id",
		Short: "Print the node's chain id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.client.GetChainID(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]interface{}{"chain_id": id, "configured": a.client.Chain().ID})
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	var block string
	cmd := &cobra.Command{
		Use:   "balance <address>",
		Short: "Get an account balance in wei",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := addressParams(args[0], block)
			if err != nil {
				return err
			}
			bal, err := a.client.GetBalance(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"address": p.Address.Hex(), "block": p.Block.String(), "balance": bal.String()})
		},
	}
	blockFlag(cmd, &block)
	return cmd
}

func (a *app) nonceCmd() *cobra.Command {
	var block string
	cmd := &cobra.Command{
		Use:   "nonce <address>",
		Short: "Get the number of transactions sent from an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := addressParams(args[0], block)
			if err != nil {
				return err
			}
			n, err := a.client.GetTransactionCount(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]interface{}{"address": p.Address.Hex(), "block": p.Block.String(), "nonce": n})
		},
	}
	blockFlag(cmd, &block)
	return cmd
}

func (a *app) codeCmd() *cobra.Command {
	var block string
	cmd := &cobra.Command{
		Use:   "code <address>",
		Short: "Get the bytecode deployed at an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := addressParams(args[0], block)
			if err != nil {
				return err
			}
			code, err := a.client.GetCode(cmd.Context(), p)
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]interface{}{"address": p.Address.Hex(), "code": hexutil.Encode(code), "size": len(code)})
		},
	}
	blockFlag(cmd, &block)
	return cmd
}

func (a *app) storageCmd() *cobra.Command {
	var block string
	cmd := &cobra.Command{
		Use:   "storage <address> <slot>",
		Short: "Read a storage slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := addressParams(args[0], block)
			if err != nil {
				return err
			}
			slot, err := parseSlot(args[1])
			if err != nil {
				return err
			}
			v, err := a.client.GetStorageAt(cmd.Context(), evm.StorageParams{Address: p.Address, Slot: slot, Block: p.Block})
			if err != nil {
				return err
			}
			return a.print(cmd, map[string]string{"address": p.Address.Hex(), "slot": slot.Hex(), "value": v.Hex()})
		},
	}
	blockFlag(cmd, &block)
	return cmd
}

func (a *app) proofCmd() *cobra.Command {
	var block string
	cmd := &cobra.Command{
		Use:   "proof <address> [slot...]",
		Short: "Get the Merkle proof of an account and storage slots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := addressParams(args[0], block)
			if err != nil {
				return err
			}
			keys := make([]common.Hash, 0, len(args)-1)
			for _, s := range args[1:] {
				slot, err := parseSlot(s)
				if err != nil {
					return err
				}
				keys = append(keys, slot)
			}
			proof, err := a.client.GetProof(cmd.Context(), evm.ProofParams{Address: p.Address, StorageKeys: keys, Block: p.Block})
			if err != nil {
				return err
			}
			return a.print(cmd, proof)
		},
	}
	blockFlag(cmd, &block)
	return cmd
}
