package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// minedTxJSON renders tx as returned by eth_getTransactionByHash. A nil number
// leaves it pending.
func minedTxJSON(t *testing.T, tx *types.Transaction, number *uint64) map[string]interface{} {
	t.Helper()
	raw, err := tx.MarshalJSON()
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	if number != nil {
		m["blockNumber"] = hexutil.EncodeUint64(*number)
		m["blockHash"] = common.Hash{0xbb}
		m["transactionIndex"] = "0x0"
	} else {
		m["blockNumber"] = nil
		m["blockHash"] = nil
		m["transactionIndex"] = nil
	}
	return m
}

func receiptFor(hash common.Hash, number uint64) *types.Receipt {
	return &types.Receipt{
		Type:              types.DynamicFeeTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		Logs:              []*types.Log{},
		TxHash:            hash,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		BlockHash:         common.Hash{0xbb},
		BlockNumber:       new(big.Int).SetUint64(number),
	}
}

func hashArg(t *testing.T, args []json.RawMessage) common.Hash {
	t.Helper()
	var h common.Hash
	require.NoError(t, json.Unmarshal(args[0], &h))
	return h
}

func TestGetTransactionByHash(t *testing.T) {
	to := common.Address{0xaa}
	tx := signedTx(t, testKey, 0, &to, 1, nil)
	number := uint64(100)
	node := newScriptedNode().reply("eth_getTransactionByHash", minedTxJSON(t, tx, &number))
	c := newTestClient(t, node)

	hash := tx.Hash()
	got, err := c.GetTransaction(context.Background(), GetTransactionParams{Hash: &hash})
	require.NoError(t, err)
	require.Equal(t, hash, got.Hash)
	require.Equal(t, uint64(100), got.BlockNumber.Uint64())
	require.Equal(t, uint64(0), *got.TransactionIndex)
	require.False(t, got.Pending())
	require.Equal(t, testKeyAddress(t), got.From)
}

func TestGetTransactionByBlockAndIndex(t *testing.T) {
	to := common.Address{0xaa}
	tx := signedTx(t, testKey, 0, &to, 1, nil)
	number := uint64(7)
	node := newScriptedNode().
		reply("eth_getTransactionByBlockNumberAndIndex", minedTxJSON(t, tx, &number)).
		reply("eth_getTransactionByBlockHashAndIndex", minedTxJSON(t, tx, &number))
	c := newTestClient(t, node)
	idx := uint64(2)

	_, err := c.GetTransaction(context.Background(), GetTransactionParams{Block: AtNumber(7), Index: &idx})
	require.NoError(t, err)
	args := node.lastArgs("eth_getTransactionByBlockNumberAndIndex")
	require.Equal(t, "0x7", argString(t, args[0]))
	require.Equal(t, "0x2", argString(t, args[1]))

	_, err = c.GetTransaction(context.Background(), GetTransactionParams{Block: AtHash(common.Hash{0x01}), Index: &idx})
	require.NoError(t, err)
	require.Equal(t, 1, node.callCount("eth_getTransactionByBlockHashAndIndex"))
}

func TestGetTransactionRequiresHashOrIndex(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	_, err := c.GetTransaction(context.Background(), GetTransactionParams{})
	require.Error(t, err)

	hash := common.Hash{0x01}
	idx := uint64(0)
	_, err = c.GetTransaction(context.Background(), GetTransactionParams{Hash: &hash, Index: &idx})
	require.Error(t, err)
}

func TestGetTransactionNotFound(t *testing.T) {
	node := newScriptedNode().reply("eth_getTransactionByHash", nil)
	c := newTestClient(t, node)
	hash := common.Hash{0x01}

	_, err := c.GetTransaction(context.Background(), GetTransactionParams{Hash: &hash})
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestGetTransactionConfirmations(t *testing.T) {
	hash := common.Hash{0x01}
	node := newScriptedNode().
		reply("eth_blockNumber", "0x6e").
		reply("eth_getTransactionReceipt", receiptFor(hash, 100))
	c := newTestClient(t, node)

	n, err := c.GetTransactionConfirmations(context.Background(), hash)
	require.NoError(t, err)
	require.Equal(t, uint64(11), n)
}

func TestGetTransactionConfirmationsPending(t *testing.T) {
	to := common.Address{0xaa}
	tx := signedTx(t, testKey, 0, &to, 1, nil)
	node := newScriptedNode().
		reply("eth_blockNumber", "0x6e").
		reply("eth_getTransactionReceipt", nil).
		reply("eth_getTransactionByHash", minedTxJSON(t, tx, nil))
	c := newTestClient(t, node)

	n, err := c.GetTransactionConfirmations(context.Background(), tx.Hash())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestWaitForTransactionReceipt(t *testing.T) {
	to := common.Address{0xaa}
	tx := signedTx(t, testKey, 0, &to, 1, nil)
	hash := tx.Hash()
	var head atomic.Uint64
	head.Store(99)
	node := newScriptedNode().
		reply("eth_getTransactionByHash", minedTxJSON(t, tx, nil)).
		on("eth_blockNumber", func([]json.RawMessage) (interface{}, error) {
			return hexutil.Uint64(head.Add(1)), nil
		}).
		on("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, error) {
			if head.Load() < 102 {
				return nil, nil
			}
			return receiptFor(hash, 101), nil
		})
	c := newTestClient(t, node, WithCacheTime(0))

	receipt, err := c.WaitForTransactionReceipt(context.Background(), WaitForTransactionReceiptParams{
		Hash:            hash,
		Confirmations:   2,
		PollingInterval: 5 * time.Millisecond,
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, hash, receipt.TxHash)
	require.GreaterOrEqual(t, head.Load(), uint64(102))
}

func TestWaitForTransactionReceiptTimeout(t *testing.T) {
	to := common.Address{0xaa}
	tx := signedTx(t, testKey, 0, &to, 1, nil)
	node := newScriptedNode().
		reply("eth_blockNumber", "0x1").
		reply("eth_getTransactionReceipt", nil).
		reply("eth_getTransactionByHash", minedTxJSON(t, tx, nil))
	c := newTestClient(t, node, WithCacheTime(0))

	_, err := c.WaitForTransactionReceipt(context.Background(), WaitForTransactionReceiptParams{
		Hash:            tx.Hash(),
		PollingInterval: 5 * time.Millisecond,
		Timeout:         40 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestWaitForTransactionReceiptDetectsReplacement(t *testing.T) {
	to := common.Address{0xaa}
	sender := testKeyAddress(t)
	original := signedTx(t, testKey, 3, &to, 1, nil)
	cancel := signedTx(t, testKey, 3, &sender, 0, nil)
	block := uint64(50)

	var polls atomic.Int32
	node := newScriptedNode().
		reply("eth_blockNumber", hexutil.Uint64(block)).
		on("eth_getTransactionByHash", func([]json.RawMessage) (interface{}, error) {
			if polls.Add(1) == 1 {
				return minedTxJSON(t, original, nil), nil
			}
			return nil, nil
		}).
		on("eth_getTransactionReceipt", func(args []json.RawMessage) (interface{}, error) {
			if hashArg(t, args) == cancel.Hash() {
				return receiptFor(cancel.Hash(), block), nil
			}
			return nil, nil
		}).
		reply("eth_getTransactionCount", "0x4").
		reply("eth_getBlockByNumber", blockJSON(block, big.NewInt(1), minedTxJSON(t, cancel, &block)))
	c := newTestClient(t, node, WithCacheTime(0))

	var replaced *Replacement
	receipt, err := c.WaitForTransactionReceipt(context.Background(), WaitForTransactionReceiptParams{
		Hash:            original.Hash(),
		PollingInterval: 5 * time.Millisecond,
		Timeout:         5 * time.Second,
		OnReplaced:      func(r Replacement) { replaced = &r },
	})
	require.NoError(t, err)
	require.Equal(t, cancel.Hash(), receipt.TxHash)
	require.NotNil(t, replaced)
	require.Equal(t, ReplacementCancelled, replaced.Reason)
	require.Equal(t, original.Hash(), replaced.ReplacedTransaction.Hash)
}

func TestWaitForTransactionReceiptFindsReplacementBelowHead(t *testing.T) {
	to := common.Address{0xaa}
	sender := testKeyAddress(t)
	original := signedTx(t, testKey, 3, &to, 1, nil)
	cancel := signedTx(t, testKey, 3, &sender, 0, nil)
	mined := uint64(50)

	var head atomic.Uint64
	head.Store(49)
	var scanned sync.Map
	node := newScriptedNode().
		on("eth_blockNumber", func([]json.RawMessage) (interface{}, error) {
			return hexutil.Uint64(head.Load()), nil
		}).
		on("eth_getTransactionByHash", func([]json.RawMessage) (interface{}, error) {
			if head.Load() == 49 {
				// The node moves three blocks ahead between polls.
				head.Store(52)
				return minedTxJSON(t, original, nil), nil
			}
			return nil, nil
		}).
		on("eth_getTransactionReceipt", func(args []json.RawMessage) (interface{}, error) {
			if hashArg(t, args) == cancel.Hash() {
				return receiptFor(cancel.Hash(), mined), nil
			}
			return nil, nil
		}).
		reply("eth_getTransactionCount", "0x4").
		on("eth_getBlockByNumber", func(args []json.RawMessage) (interface{}, error) {
			n, err := hexutil.DecodeUint64(argString(t, args[0]))
			require.NoError(t, err)
			scanned.Store(n, true)
			if n == mined {
				return blockJSON(n, big.NewInt(1), minedTxJSON(t, cancel, &mined)), nil
			}
			return blockJSON(n, big.NewInt(1)), nil
		})
	c := newTestClient(t, node, WithCacheTime(0))

	var replaced *Replacement
	receipt, err := c.WaitForTransactionReceipt(context.Background(), WaitForTransactionReceiptParams{
		Hash:            original.Hash(),
		PollingInterval: 5 * time.Millisecond,
		Timeout:         5 * time.Second,
		OnReplaced:      func(r Replacement) { replaced = &r },
	})
	require.NoError(t, err)
	require.Equal(t, cancel.Hash(), receipt.TxHash)
	require.NotNil(t, replaced)
	require.Equal(t, ReplacementCancelled, replaced.Reason)
	_, sawMined := scanned.Load(mined)
	require.True(t, sawMined, "block %d was never searched", mined)
}

func TestReplacementReason(t *testing.T) {
	to := common.Address{0xaa}
	other := common.Address{0xcc}
	sender := testKeyAddress(t)
	wrap := func(tx *types.Transaction) *Transaction {
		return &Transaction{Tx: tx, Hash: tx.Hash(), From: sender}
	}

	original := wrap(signedTx(t, testKey, 1, &to, 5, []byte{0x01}))
	cases := []struct {
		name string
		tx   *Transaction
		want ReplacementReason
	}{
		{"same call", wrap(signedTx(t, testKey, 1, &to, 5, []byte{0x01})), ReplacementRepriced},
		{"self transfer", wrap(signedTx(t, testKey, 1, &sender, 0, nil)), ReplacementCancelled},
		{"different call", wrap(signedTx(t, testKey, 1, &other, 5, nil)), ReplacementReplaced},
	}
	for _, tc := range cases {
		if got := replacementReason(original, tc.tx); got != tc.want {
			t.Fatalf("replacementReason(%s)=%q, want %q", tc.name, got, tc.want)
		}
	}
}
