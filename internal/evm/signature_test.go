package evm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, hash []byte) []byte {
	t.Helper()
	pk, err := crypto.ToECDSA(testKey)
	require.NoError(t, err)
	sig, err := crypto.Sign(hash, pk)
	require.NoError(t, err)
	return sig
}

func TestRecoverAddressSignatureForms(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("hello"))
	sig := sign(t, hash.Bytes())
	want := testKeyAddress(t)

	got, err := RecoverAddress(hash, sig)
	require.NoError(t, err)
	require.Equal(t, want, got)

	legacyV := append([]byte{}, sig...)
	legacyV[64] += 27
	got, err = RecoverAddress(hash, legacyV)
	require.NoError(t, err)
	require.Equal(t, want, got)

	compact := append([]byte{}, sig[:64]...)
	compact[32] |= sig[64] << 7
	got, err = RecoverAddress(hash, compact)
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = RecoverAddress(hash, sig[:10])
	require.ErrorIs(t, err, ErrUnsupportedSignature)
}

func TestVerifyMessageEOA(t *testing.T) {
	node := newScriptedNode().reply("eth_getCode", "0x")
	c := newTestClient(t, node)
	msg := []byte("hello world")
	sig := sign(t, accounts.TextHash(msg))

	ok, err := c.VerifyMessage(context.Background(), VerifyMessageParams{Address: testKeyAddress(t), Message: msg, Signature: sig})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.VerifyMessage(context.Background(), VerifyMessageParams{Address: common.Address{0x01}, Message: msg, Signature: sig})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyHashContractAccount(t *testing.T) {
	magic, err := erc1271ABI.Methods["isValidSignature"].Outputs.Pack(erc1271MagicValue)
	require.NoError(t, err)
	node := newScriptedNode().
		reply("eth_getCode", "0x6080604052").
		reply("eth_call", hexutil.Bytes(magic))
	c := newTestClient(t, node)
	wallet := common.Address{0x5c}
	hash := common.Hash{0x01}

	ok, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: wallet, Hash: hash, Signature: []byte{0x01, 0x02}})
	require.NoError(t, err)
	require.True(t, ok)

	call := argObject(t, node.lastArgs("eth_call")[0])
	require.Equal(t, hexutil.Encode(erc1271ABI.Methods["isValidSignature"].ID), call["data"].(string)[:10])
}

func TestVerifyHashContractRejects(t *testing.T) {
	node := newScriptedNode().
		reply("eth_getCode", "0x6080604052").
		on("eth_call", func([]json.RawMessage) (interface{}, error) {
			return nil, &nodeError{code: 3, msg: "execution reverted"}
		})
	c := newTestClient(t, node)

	ok, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: common.Address{0x5c}, Signature: []byte{0x01}})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyHashMalformedEOASignatureIsInvalid(t *testing.T) {
	node := newScriptedNode().reply("eth_getCode", "0x")
	c := newTestClient(t, node)
	hash := crypto.Keccak256Hash([]byte("hello"))

	badV := sign(t, hash.Bytes())
	badV[64] = 9
	for name, sig := range map[string][]byte{
		"short":     {0x01, 0x02, 0x03},
		"bad v":     badV,
		"zero r, s": make([]byte, 65),
	} {
		ok, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: testKeyAddress(t), Hash: hash, Signature: sig})
		require.NoError(t, err, name)
		require.False(t, ok, name)
	}
}

func TestVerifyHashContractUndecodableResultIsInvalid(t *testing.T) {
	for name, result := range map[string]interface{}{
		"empty":     "0x",
		"too short": "0x1626ba",
	} {
		node := newScriptedNode().
			reply("eth_getCode", "0x6080604052").
			reply("eth_call", result)
		c := newTestClient(t, node)

		ok, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: common.Address{0x5c}, Signature: []byte{0x01}})
		require.NoError(t, err, name)
		require.False(t, ok, name)
	}
}

func TestVerifyHashContractTransportErrorIsReturned(t *testing.T) {
	node := newScriptedNode().
		reply("eth_getCode", "0x6080604052").
		on("eth_call", func([]json.RawMessage) (interface{}, error) {
			return nil, &nodeError{code: -32000, msg: "header not found"}
		})
	c := newTestClient(t, node)

	_, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: common.Address{0x5c}, Signature: []byte{0x01}})
	require.Error(t, err)
}

func TestVerifyHashRejectsERC6492(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	sig := append([]byte{0x01, 0x02}, erc6492Suffix...)
	_, err := c.VerifyHash(context.Background(), VerifyHashParams{Address: common.Address{0x01}, Signature: sig})
	require.ErrorIs(t, err, ErrUnsupportedSignature)
}

func TestVerifyTypedData(t *testing.T) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {{Name: "name", Type: "string"}, {Name: "chainId", Type: "uint256"}},
			"Mail":         {{Name: "contents", Type: "string"}},
		},
		PrimaryType: "Mail",
		Domain:      apitypes.TypedDataDomain{Name: "Ether Mail", ChainId: math.NewHexOrDecimal256(1)},
		Message:     apitypes.TypedDataMessage{"contents": "Hello, Bob!"},
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	sig := sign(t, hash)

	node := newScriptedNode().reply("eth_getCode", "0x")
	c := newTestClient(t, node)

	ok, err := c.VerifyTypedData(context.Background(), VerifyTypedDataParams{Address: testKeyAddress(t), TypedData: td, Signature: sig})
	require.NoError(t, err)
	require.True(t, ok)

	td.Message["contents"] = "Hello, Alice!"
	ok, err = c.VerifyTypedData(context.Background(), VerifyTypedDataParams{Address: testKeyAddress(t), TypedData: td, Signature: sig})
	require.NoError(t, err)
	require.False(t, ok)
}
