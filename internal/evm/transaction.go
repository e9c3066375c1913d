package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transaction is a transaction as returned by the node, with its inclusion metadata.
// BlockHash, BlockNumber and TransactionIndex are nil while pending.
type Transaction struct {
	Tx               *types.Transaction
	Hash             common.Hash
	From             common.Address
	BlockHash        *common.Hash
	BlockNumber      *big.Int
	TransactionIndex *uint64
}

type rpcTxExtra struct {
	Hash             common.Hash     `json:"hash"`
	From             *common.Address `json:"from"`
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	tx := new(types.Transaction)
	if err := tx.UnmarshalJSON(data); err != nil {
		return err
	}
	var extra rpcTxExtra
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	t.Tx = tx
	t.Hash = extra.Hash
	if t.Hash == (common.Hash{}) {
		t.Hash = tx.Hash()
	}
	if extra.From != nil {
		t.From = *extra.From
	} else if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		t.From = from
	}
	t.BlockHash = extra.BlockHash
	t.BlockNumber = bigOrNil(extra.BlockNumber)
	t.TransactionIndex = (*uint64)(extra.TransactionIndex)
	return nil
}

func (t *Transaction) MarshalJSON() ([]byte, error) {
	txJSON, err := t.Tx.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(txJSON, &fields); err != nil {
		return nil, err
	}
	extra, err := json.Marshal(rpcTxExtra{
		Hash:             t.Hash,
		From:             &t.From,
		BlockHash:        t.BlockHash,
		BlockNumber:      (*hexutil.Big)(t.BlockNumber),
		TransactionIndex: (*hexutil.Uint64)(t.TransactionIndex),
	})
	if err != nil {
		return nil, err
	}
	var extraFields map[string]json.RawMessage
	if err := json.Unmarshal(extra, &extraFields); err != nil {
		return nil, err
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// Pending reports whether the transaction is not yet included in a block.
func (t *Transaction) Pending() bool {
	return t.BlockNumber == nil
}

func decodeTransaction(raw json.RawMessage) (*Transaction, error) {
	if isNull(raw) {
		return nil, ErrTransactionNotFound
	}
	tx := new(Transaction)
	if err := json.Unmarshal(raw, tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

// GetTransaction returns a transaction by hash, or by block and index.
func (c *PublicClient) GetTransaction(ctx context.Context, p GetTransactionParams) (*Transaction, error) {
	if err := validateParams("getTransaction", p); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	switch {
	case p.Hash != nil:
		if err := c.request(ctx, &raw, "eth_getTransactionByHash", *p.Hash); err != nil {
			return nil, err
		}
	case p.Block.Hash != nil:
		if err := c.request(ctx, &raw, "eth_getTransactionByBlockHashAndIndex", *p.Block.Hash, hexutil.Uint64(*p.Index)); err != nil {
			return nil, err
		}
	default:
		num, err := p.Block.numberArg()
		if err != nil {
			return nil, fmt.Errorf("getTransaction: %w", err)
		}
		if err := c.request(ctx, &raw, "eth_getTransactionByBlockNumberAndIndex", num, hexutil.Uint64(*p.Index)); err != nil {
			return nil, err
		}
	}

	tx, err := decodeTransaction(raw)
	if err != nil {
		if p.Hash != nil {
			return nil, fmt.Errorf("getTransaction %s: %w", p.Hash.Hex(), err)
		}
		return nil, fmt.Errorf("getTransaction %s#%d: %w", p.Block, *p.Index, err)
	}
	return tx, nil
}

// GetTransactionReceipt returns the receipt of a mined transaction.
func (c *PublicClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var raw json.RawMessage
	if err := c.request(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, fmt.Errorf("getTransactionReceipt %s: %w", hash.Hex(), ErrTransactionReceiptNotFound)
	}
	receipt := new(types.Receipt)
	if err := json.Unmarshal(raw, receipt); err != nil {
		return nil, fmt.Errorf("getTransactionReceipt %s: decode: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// GetTransactionConfirmations returns how many blocks have been produced since
// (and including) the block that holds the transaction; 0 while pending.
func (c *PublicClient) GetTransactionConfirmations(ctx context.Context, hash common.Hash) (uint64, error) {
	latest, err := c.GetBlockNumber(ctx, GetBlockNumberParams{})
	if err != nil {
		return 0, err
	}

	var included *big.Int
	receipt, err := c.GetTransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		included = receipt.BlockNumber
	case errors.Is(err, ErrTransactionReceiptNotFound):
		tx, txErr := c.GetTransaction(ctx, GetTransactionParams{Hash: &hash})
		if txErr != nil {
			return 0, txErr
		}
		included = tx.BlockNumber
	default:
		return 0, err
	}
	return confirmations(latest, included), nil
}

func confirmations(latest uint64, included *big.Int) uint64 {
	if included == nil || !included.IsUint64() || included.Uint64() > latest {
		return 0
	}
	return latest - included.Uint64() + 1
}

type ReplacementReason string

const (
	ReplacementRepriced  ReplacementReason = "repriced"
	ReplacementCancelled ReplacementReason = "cancelled"
	ReplacementReplaced  ReplacementReason = "replaced"
)

// Replacement describes a transaction that superseded the awaited one.
type Replacement struct {
	Reason              ReplacementReason
	Transaction         *Transaction
	ReplacedTransaction *Transaction
	Receipt             *types.Receipt
}

// WaitForTransactionReceipt polls until the transaction is included with the
// requested number of confirmations, the timeout passes, or ctx is done. When
// the transaction is replaced (same sender and nonce), the replacement's
// receipt is returned and OnReplaced is called.
func (c *PublicClient) WaitForTransactionReceipt(ctx context.Context, p WaitForTransactionReceiptParams) (*types.Receipt, error) {
	if err := validateParams("waitForTransactionReceipt", p); err != nil {
		return nil, err
	}
	interval := p.PollingInterval
	if interval <= 0 {
		interval = c.pollingInterval
	}
	confirms := p.Confirmations
	if confirms == 0 {
		confirms = 1
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var state waitState
	for {
		receipt, err := c.pollReceipt(ctx, p, confirms, &state)
		if err != nil || receipt != nil {
			return receipt, err
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("waitForTransactionReceipt %s: %w", p.Hash.Hex(), ErrWaitTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitState carries what one wait has learned across polls: the awaited
// transaction once seen, and the highest block already searched for a
// replacement.
type waitState struct {
	original *Transaction
	scanned  uint64
}

func (c *PublicClient) pollReceipt(ctx context.Context, p WaitForTransactionReceiptParams, confirms uint64, state *waitState) (*types.Receipt, error) {
	latest, err := c.GetBlockNumber(ctx, GetBlockNumberParams{})
	if err != nil {
		return nil, transientOrFatal(ctx, err)
	}

	receipt, err := c.GetTransactionReceipt(ctx, p.Hash)
	if err == nil {
		if confirmations(latest, receipt.BlockNumber) >= confirms {
			return receipt, nil
		}
		return nil, nil
	}
	if !errors.Is(err, ErrTransactionReceiptNotFound) {
		return nil, transientOrFatal(ctx, err)
	}

	tx, err := c.GetTransaction(ctx, GetTransactionParams{Hash: &p.Hash})
	if err == nil {
		state.original = tx
		// The head block is searched again in case the replacement landed in it.
		if latest > 0 {
			state.scanned = latest - 1
		}
		return nil, nil
	}
	if !errors.Is(err, ErrTransactionNotFound) || state.original == nil {
		return nil, transientOrFatal(ctx, err)
	}

	replacement, err := c.findReplacement(ctx, state, latest)
	if err != nil || replacement == nil {
		return nil, transientOrFatal(ctx, err)
	}
	if confirmations(latest, replacement.Receipt.BlockNumber) < confirms {
		return nil, nil
	}
	if p.OnReplaced != nil {
		p.OnReplaced(*replacement)
	}
	return replacement.Receipt, nil
}

// transientOrFatal keeps polling through not-found and network errors; only a
// finished context ends the wait early.
func transientOrFatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrBlockNotFound) {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	return nil
}

// findReplacement searches every block in (state.scanned, latest] for a
// transaction with the original's sender and nonce, advancing state.scanned
// past each block searched.
func (c *PublicClient) findReplacement(ctx context.Context, state *waitState, latest uint64) (*Replacement, error) {
	original := state.original
	nonce, err := c.GetTransactionCount(ctx, AddressParams{Address: original.From, Block: AtNumber(latest)})
	if err != nil {
		return nil, err
	}
	if nonce <= original.Tx.Nonce() {
		return nil, nil
	}

	for n := state.scanned + 1; n <= latest; n++ {
		replacement, err := c.replacementInBlock(ctx, original, n)
		if err != nil || replacement != nil {
			return replacement, err
		}
		state.scanned = n
	}
	return nil, nil
}

func (c *PublicClient) replacementInBlock(ctx context.Context, original *Transaction, number uint64) (*Replacement, error) {
	block, err := c.GetBlock(ctx, GetBlockParams{Block: AtNumber(number), IncludeTransactions: true})
	if err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions {
		if tx.From != original.From || tx.Tx.Nonce() != original.Tx.Nonce() {
			continue
		}
		receipt, err := c.GetTransactionReceipt(ctx, tx.Hash)
		if err != nil {
			return nil, err
		}
		return &Replacement{
			Reason:              replacementReason(original, tx),
			Transaction:         tx,
			ReplacedTransaction: original,
			Receipt:             receipt,
		}, nil
	}
	return nil, nil
}

func replacementReason(original, replacement *Transaction) ReplacementReason {
	sameTo := (original.Tx.To() == nil && replacement.Tx.To() == nil) ||
		(original.Tx.To() != nil && replacement.Tx.To() != nil && *original.Tx.To() == *replacement.Tx.To())
	if sameTo && original.Tx.Value().Cmp(replacement.Tx.Value()) == 0 && bytes.Equal(original.Tx.Data(), replacement.Tx.Data()) {
		return ReplacementRepriced
	}
	if replacement.Tx.To() != nil && *replacement.Tx.To() == replacement.From && replacement.Tx.Value().Sign() == 0 {
		return ReplacementCancelled
	}
	return ReplacementReplaced
}
