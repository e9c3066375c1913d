package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"evm-public-client/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// nodeError mimics a JSON-RPC error object returned by a node.
type nodeError struct {
	code int
	msg  string
	data interface{}
}

func (e *nodeError) Error() string          { return e.msg }
func (e *nodeError) ErrorCode() int         { return e.code }
func (e *nodeError) ErrorData() interface{} { return e.data }

type handler func(args []json.RawMessage) (interface{}, error)

// scriptedNode answers JSON-RPC calls from per-method handlers and records the
// arguments it received. Results go through a JSON round trip like on the wire.
type scriptedNode struct {
	mu       sync.Mutex
	handlers map[string]handler
	calls    map[string]int
	args     map[string][]json.RawMessage
}

func newScriptedNode() *scriptedNode {
	return &scriptedNode{
		handlers: make(map[string]handler),
		calls:    make(map[string]int),
		args:     make(map[string][]json.RawMessage),
	}
}

func (n *scriptedNode) on(method string, h handler) *scriptedNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[method] = h
	return n
}

// reply registers a handler that always returns v.
func (n *scriptedNode) reply(method string, v interface{}) *scriptedNode {
	return n.on(method, func([]json.RawMessage) (interface{}, error) { return v, nil })
}

func (n *scriptedNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *scriptedNode) lastArgs(method string) []json.RawMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.args[method]
}

func (n *scriptedNode) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return err
		}
		raw[i] = b
	}

	n.mu.Lock()
	h, ok := n.handlers[method]
	n.calls[method]++
	n.args[method] = raw
	n.mu.Unlock()

	if !ok {
		return &nodeError{code: -32601, msg: fmt.Sprintf("the method %s does not exist/is not available", method)}
	}
	res, err := h(raw)
	if err != nil {
		return err
	}
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, result)
}

func newTestClient(t *testing.T, node *scriptedNode, opts ...Option) *PublicClient {
	t.Helper()
	c, err := chain.Lookup("mainnet")
	require.NoError(t, err)
	return NewPublicClient(node, c, opts...)
}

func argString(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func argObject(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

// signedTx builds a signed dynamic-fee transaction from key.
func signedTx(t *testing.T, key []byte, nonce uint64, to *common.Address, value int64, data []byte) *types.Transaction {
	t.Helper()
	pk, err := crypto.ToECDSA(key)
	require.NoError(t, err)
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     nonce,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
		Gas:       21000,
		To:        to,
		Value:     big.NewInt(value),
		Data:      data,
	}), types.LatestSignerForChainID(big.NewInt(1)), pk)
	require.NoError(t, err)
	return tx
}

var testKey = common.FromHex("0xb71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")

func testKeyAddress(t *testing.T) common.Address {
	t.Helper()
	pk, err := crypto.ToECDSA(testKey)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(pk.PublicKey)
}

// blockJSON renders a block as a node would, with txs as hashes or full objects.
func blockJSON(number uint64, baseFee *big.Int, txs ...interface{}) map[string]interface{} {
	hash := crypto.Keccak256Hash(new(big.Int).SetUint64(number).Bytes())
	b := map[string]interface{}{
		"number":           hexutil.EncodeUint64(number),
		"hash":             hash,
		"parentHash":       common.Hash{0x01},
		"nonce":            "0x0000000000000000",
		"miner":            common.Address{0x02},
		"stateRoot":        common.Hash{0x03},
		"transactionsRoot": types.EmptyTxsHash,
		"receiptsRoot":     types.EmptyReceiptsHash,
		"logsBloom":        types.Bloom{},
		"difficulty":       "0x0",
		"gasLimit":         hexutil.EncodeUint64(30_000_000),
		"gasUsed":          hexutil.EncodeUint64(21000),
		"timestamp":        hexutil.EncodeUint64(1_700_000_000 + number*12),
		"extraData":        "0x",
		"mixHash":          common.Hash{},
		"size":             hexutil.EncodeUint64(600),
		"uncles":           []common.Hash{},
		"transactions":     txs,
	}
	if txs == nil {
		b["transactions"] = []interface{}{}
	}
	if baseFee != nil {
		b["baseFeePerGas"] = (*hexutil.Big)(baseFee)
	}
	return b
}
