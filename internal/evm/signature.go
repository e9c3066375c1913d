package evm

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const erc1271ABIJSON = `[{"inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"name":"isValidSignature","outputs":[{"name":"magicValue","type":"bytes4"}],"stateMutability":"view","type":"function"}]`

var (
	erc1271ABI        = mustParseABI(erc1271ABIJSON)
	erc1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
	// Counterfactual (ERC-6492) signatures end with this marker.
	erc6492Suffix = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")
)

// normalizeSignature returns a 65-byte [R || S || V] signature with V in {0, 1}.
// It accepts V as 0/1 or 27/28 and compact 64-byte EIP-2098 signatures.
func normalizeSignature(sig []byte) ([]byte, error) {
	switch len(sig) {
	case crypto.SignatureLength:
		out := bytes.Clone(sig)
		if out[64] >= 27 {
			out[64] -= 27
		}
		if out[64] > 1 {
			return nil, fmt.Errorf("%w: invalid recovery id %d", ErrUnsupportedSignature, sig[64])
		}
		return out, nil
	case 64:
		out := make([]byte, crypto.SignatureLength)
		copy(out, sig)
		out[64] = sig[32] >> 7
		out[32] &= 0x7f
		return out, nil
	}
	return nil, fmt.Errorf("%w: length %d", ErrUnsupportedSignature, len(sig))
}

// RecoverAddress returns the address that produced sig over hash.
func RecoverAddress(hash common.Hash, sig []byte) (common.Address, error) {
	normalized, err := normalizeSignature(sig)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover address: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

type VerifyHashParams struct {
	Address   common.Address `json:"address"`
	Hash      common.Hash    `json:"hash"`
	Signature []byte         `json:"signature" validate:"required"`
	Block     BlockSelector  `json:"block"`
}

// VerifyHash reports whether sig is a valid signature of hash by address.
// Accounts with code are checked through ERC-1271 isValidSignature; others by
// ECDSA recovery.
func (c *PublicClient) VerifyHash(ctx context.Context, p VerifyHashParams) (bool, error) {
	if err := validateParams("verifyHash", p); err != nil {
		return false, err
	}
	if len(p.Signature) > len(erc6492Suffix) && bytes.HasSuffix(p.Signature, erc6492Suffix) {
		return false, fmt.Errorf("verifyHash: %w: ERC-6492 wrapped signature", ErrUnsupportedSignature)
	}

	code, err := c.GetCode(ctx, AddressParams{Address: p.Address, Block: p.Block})
	if err != nil {
		return false, fmt.Errorf("verifyHash: %w", err)
	}
	if len(code) > 0 {
		return c.verifyContractSignature(ctx, p)
	}

	// A signature that cannot be recovered is simply not valid for address.
	signer, err := RecoverAddress(p.Hash, p.Signature)
	if err != nil {
		return false, nil
	}
	return signer == p.Address, nil
}

// verifyContractSignature calls isValidSignature on p.Address. A revert, an
// empty return or output that does not decode as bytes4 counts as invalid.
// Transport failures are returned.
func (c *PublicClient) verifyContractSignature(ctx context.Context, p VerifyHashParams) (bool, error) {
	cc := ContractCall{
		Address:      p.Address,
		ABI:          erc1271ABI,
		FunctionName: "isValidSignature",
		Args:         []interface{}{[32]byte(p.Hash), p.Signature},
	}
	data, err := cc.pack()
	if err != nil {
		return false, fmt.Errorf("verifyHash: %w", err)
	}
	to := p.Address
	out, err := c.Call(ctx, CallParams{To: &to, Data: data, Block: p.Block})
	if err != nil {
		if _, reverted := AsExecutionError(err); reverted {
			return false, nil
		}
		return false, fmt.Errorf("verifyHash: %w", err)
	}
	values, err := cc.unpack(out)
	if err != nil || len(values) == 0 {
		return false, nil
	}
	magic, ok := values[0].([4]byte)
	return ok && magic == erc1271MagicValue, nil
}

type VerifyMessageParams struct {
	Address   common.Address `json:"address"`
	Message   []byte         `json:"message"`
	Signature []byte         `json:"signature" validate:"required"`
	Block     BlockSelector  `json:"block"`
}

// VerifyMessage checks an EIP-191 personal_sign signature.
func (c *PublicClient) VerifyMessage(ctx context.Context, p VerifyMessageParams) (bool, error) {
	return c.VerifyHash(ctx, VerifyHashParams{
		Address:   p.Address,
		Hash:      common.BytesToHash(accounts.TextHash(p.Message)),
		Signature: p.Signature,
		Block:     p.Block,
	})
}

type VerifyTypedDataParams struct {
	Address   common.Address     `json:"address"`
	TypedData apitypes.TypedData `json:"typed_data"`
	Signature []byte             `json:"signature" validate:"required"`
	Block     BlockSelector      `json:"block"`
}

// VerifyTypedData checks an EIP-712 typed data signature.
func (c *PublicClient) VerifyTypedData(ctx context.Context, p VerifyTypedDataParams) (bool, error) {
	hash, _, err := apitypes.TypedDataAndHash(p.TypedData)
	if err != nil {
		return false, fmt.Errorf("verifyTypedData: hash typed data: %w", err)
	}
	return c.VerifyHash(ctx, VerifyHashParams{
		Address:   p.Address,
		Hash:      common.BytesToHash(hash),
		Signature: p.Signature,
		Block:     p.Block,
	})
}
