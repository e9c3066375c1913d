package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GetBalance returns the balance of an address in wei.
func (c *PublicClient) GetBalance(ctx context.Context, p AddressParams) (*big.Int, error) {
	if err := validateParams("getBalance", p); err != nil {
		return nil, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return nil, fmt.Errorf("getBalance: %w", err)
	}
	var balance hexutil.Big
	if err := c.request(ctx, &balance, "eth_getBalance", p.Address, block); err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

// GetTransactionCount returns the number of transactions the account has sent (its nonce).
func (c *PublicClient) GetTransactionCount(ctx context.Context, p AddressParams) (uint64, error) {
	if err := validateParams("getTransactionCount", p); err != nil {
		return 0, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return 0, fmt.Errorf("getTransactionCount: %w", err)
	}
	var count hexutil.Uint64
	if err := c.request(ctx, &count, "eth_getTransactionCount", p.Address, block); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

// GetCode returns the deployed bytecode; empty for externally owned accounts.
func (c *PublicClient) GetCode(ctx context.Context, p AddressParams) ([]byte, error) {
	if err := validateParams("getCode", p); err != nil {
		return nil, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return nil, fmt.Errorf("getCode: %w", err)
	}
	var code hexutil.Bytes
	if err := c.request(ctx, &code, "eth_getCode", p.Address, block); err != nil {
		return nil, err
	}
	return code, nil
}

func (c *PublicClient) GetStorageAt(ctx context.Context, p StorageParams) (common.Hash, error) {
	if err := validateParams("getStorageAt", p); err != nil {
		return common.Hash{}, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return common.Hash{}, fmt.Errorf("getStorageAt: %w", err)
	}
	var value hexutil.Bytes
	if err := c.request(ctx, &value, "eth_getStorageAt", p.Address, p.Slot, block); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

type StorageProof struct {
	Key   common.Hash     `json:"key"`
	Value *big.Int        `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

type AccountProof struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"account_proof"`
	Balance      *big.Int        `json:"balance"`
	CodeHash     common.Hash     `json:"code_hash"`
	Nonce        uint64          `json:"nonce"`
	StorageHash  common.Hash     `json:"storage_hash"`
	StorageProof []StorageProof  `json:"storage_proof"`
}

// GetProof returns the Merkle proof of an account and the given storage keys (EIP-1186).
func (c *PublicClient) GetProof(ctx context.Context, p ProofParams) (*AccountProof, error) {
	if err := validateParams("getProof", p); err != nil {
		return nil, err
	}
	block, err := p.Block.arg()
	if err != nil {
		return nil, fmt.Errorf("getProof: %w", err)
	}
	keys := p.StorageKeys
	if keys == nil {
		keys = []common.Hash{}
	}

	var res struct {
		Address      common.Address  `json:"address"`
		AccountProof []hexutil.Bytes `json:"accountProof"`
		Balance      *hexutil.Big    `json:"balance"`
		CodeHash     common.Hash     `json:"codeHash"`
		Nonce        hexutil.Uint64  `json:"nonce"`
		StorageHash  common.Hash     `json:"storageHash"`
		StorageProof []struct {
			Key   common.Hash     `json:"key"`
			Value *hexutil.Big    `json:"value"`
			Proof []hexutil.Bytes `json:"proof"`
		} `json:"storageProof"`
	}
	if err := c.request(ctx, &res, "eth_getProof", p.Address, keys, block); err != nil {
		return nil, err
	}

	out := &AccountProof{
		Address:      res.Address,
		AccountProof: res.AccountProof,
		Balance:      bigOrZero(res.Balance),
		CodeHash:     res.CodeHash,
		Nonce:        uint64(res.Nonce),
		StorageHash:  res.StorageHash,
		StorageProof: make([]StorageProof, 0, len(res.StorageProof)),
	}
	for _, sp := range res.StorageProof {
		out.StorageProof = append(out.StorageProof, StorageProof{
			Key:   sp.Key,
			Value: bigOrZero(sp.Value),
			Proof: sp.Proof,
		})
	}
	return out, nil
}
