package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/spf13/cobra"
)

type verifyFlags struct {
	address   string
	signature string
	block     string
}

func (f *verifyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "expected signer address")
	cmd.Flags().StringVar(&f.signature, "signature", "", "hex signature (65-byte, 64-byte compact or ERC-1271 bytes)")
	blockFlag(cmd, &f.block)
	cmd.MarkFlagRequired("address")
	cmd.MarkFlagRequired("signature")
}

func (f *verifyFlags) parse() (evm.VerifyHashParams, error) {
	addr, err := parseAddress(f.address)
	if err != nil {
		return evm.VerifyHashParams{}, err
	}
	sig, err := hexutil.Decode(f.signature)
	if err != nil {
		return evm.VerifyHashParams{}, fmt.Errorf("invalid signature: %w", err)
	}
	sel, err := evm.ParseBlockSelector(f.block)
	if err != nil {
		return evm.VerifyHashParams{}, err
	}
	return evm.VerifyHashParams{Address: addr, Signature: sig, Block: sel}, nil
}

func (a *app) printValid(cmd *cobra.Command, valid bool, err error) error {
	if err != nil {
		return err
	}
	return a.print(cmd, map[string]bool{"valid": valid})
}

func (a *app) verifyHashCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify-hash <hash>",
		Short: "Verify a signature over a 32-byte hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.parse()
			if err != nil {
				return err
			}
			if p.Hash, err = parseHash(args[0]); err != nil {
				return err
			}
			ok, err := a.client.VerifyHash(cmd.Context(), p)
			return a.printValid(cmd, ok, err)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) verifyMessageCmd() *cobra.Command {
	var (
		f   verifyFlags
		raw string
	)
	cmd := &cobra.Command{
		Use:   "verify-message [message]",
		Short: "Verify an EIP-191 personal message signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.parse()
			if err != nil {
				return err
			}
			var msg []byte
			switch {
			case raw != "":
				if msg, err = hexutil.Decode(raw); err != nil {
					return fmt.Errorf("invalid --raw: %w", err)
				}
			case len(args) == 1:
				msg = []byte(args[0])
			default:
				return errors.New("pass a message or --raw")
			}
			ok, err := a.client.VerifyMessage(cmd.Context(), evm.VerifyMessageParams{
				Address: p.Address, Message: msg, Signature: p.Signature, Block: p.Block,
			})
			return a.printValid(cmd, ok, err)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&raw, "raw", "", "hex message bytes instead of a UTF-8 message")
	return cmd
}

func (a *app) verifyTypedDataCmd() *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify-typed-data <typed-data.json>",
		Short: "Verify an EIP-712 typed data signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := f.parse()
			if err != nil {
				return err
			}
			b, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var td apitypes.TypedData
			if err := json.Unmarshal(b, &td); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			ok, err := a.client.VerifyTypedData(cmd.Context(), evm.VerifyTypedDataParams{
				Address: p.Address, TypedData: td, Signature: p.Signature, Block: p.Block,
			})
			return a.printValid(cmd, ok, err)
		},
	}
	f.register(cmd)
	return cmd
}
