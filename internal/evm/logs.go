package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilter selects logs by emitter, topics and block range. When Event is set,
// topic 0 is its selector and Args fill the indexed parameters in order; a nil
// arg matches any value. Without Args, Topics filter the indexed positions
// after the selector. Topics is used as-is when Event is nil.
type LogFilter struct {
	Addresses []common.Address `json:"addresses,omitempty"`
	Event     *abi.Event       `json:"-"`
	Args      []interface{}    `json:"args,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
	FromBlock BlockSelector    `json:"from_block"`
	ToBlock   BlockSelector    `json:"to_block"`
	BlockHash *common.Hash     `json:"block_hash,omitempty"`
}

type rpcLogFilter struct {
	Address   []common.Address `json:"address,omitempty"`
	Topics    []interface{}    `json:"topics,omitempty"`
	FromBlock string           `json:"fromBlock,omitempty"`
	ToBlock   string           `json:"toBlock,omitempty"`
	BlockHash *common.Hash     `json:"blockHash,omitempty"`
}

var errBlockHashWithRange = errors.New("block hash cannot be combined with fromBlock/toBlock")

// topics builds the positional topic filter. Trailing wildcards are dropped and
// inner wildcards are rendered as null.
func (f LogFilter) topics() ([]interface{}, error) {
	var positions [][]common.Hash
	if f.Event != nil {
		indexed := indexedInputs(f.Event)
		if len(f.Args) > len(indexed) {
			return nil, fmt.Errorf("event %s has %d indexed inputs, got %d args", f.Event.Name, len(indexed), len(f.Args))
		}
		query := make([][]interface{}, len(f.Args))
		for i, arg := range f.Args {
			if arg != nil {
				query[i] = []interface{}{arg}
			}
		}
		argTopics, err := abi.MakeTopics(query...)
		if err != nil {
			return nil, fmt.Errorf("encode topics for %s: %w", f.Event.Name, err)
		}
		if len(f.Args) == 0 {
			argTopics = f.Topics
		}
		if !f.Event.Anonymous {
			positions = append(positions, []common.Hash{f.Event.ID})
		}
		positions = append(positions, argTopics...)
	} else {
		positions = f.Topics
	}

	for len(positions) > 0 && len(positions[len(positions)-1]) == 0 {
		positions = positions[:len(positions)-1]
	}
	if len(positions) == 0 {
		return nil, nil
	}
	out := make([]interface{}, len(positions))
	for i, alts := range positions {
		switch len(alts) {
		case 0:
			out[i] = nil
		case 1:
			out[i] = alts[0]
		default:
			out[i] = alts
		}
	}
	return out, nil
}

func indexedInputs(ev *abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			out = append(out, in)
		}
	}
	return out
}

func (f LogFilter) rpc() (*rpcLogFilter, error) {
	if f.BlockHash != nil && (!f.FromBlock.IsZero() || !f.ToBlock.IsZero()) {
		return nil, errBlockHashWithRange
	}
	topics, err := f.topics()
	if err != nil {
		return nil, err
	}
	out := &rpcLogFilter{Address: f.Addresses, Topics: topics, BlockHash: f.BlockHash}
	if !f.FromBlock.IsZero() {
		if out.FromBlock, err = f.FromBlock.numberArg(); err != nil {
			return nil, fmt.Errorf("fromBlock: %w", err)
		}
	}
	if !f.ToBlock.IsZero() {
		if out.ToBlock, err = f.ToBlock.numberArg(); err != nil {
			return nil, fmt.Errorf("toBlock: %w", err)
		}
	}
	return out, nil
}

// GetLogs returns the logs matching the filter.
func (c *PublicClient) GetLogs(ctx context.Context, f LogFilter) ([]types.Log, error) {
	filter, err := f.rpc()
	if err != nil {
		return nil, fmt.Errorf("getLogs: %w", err)
	}
	var logs []types.Log
	if err := c.request(ctx, &logs, "eth_getLogs", filter); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []types.Log{}
	}
	return logs, nil
}

type FilterKind string

const (
	FilterEvent       FilterKind = "event"
	FilterBlock       FilterKind = "block"
	FilterTransaction FilterKind = "transaction"
)

// Filter is a node-side filter handle. It stays valid until uninstalled or
// expired by the node.
type Filter struct {
	ID   string     `json:"id"`
	Kind FilterKind `json:"kind"`
	// Event filters keep their definition so changes can be decoded.
	Event *abi.Event `json:"-"`
}

// CreateEventFilter installs a log filter (eth_newFilter).
func (c *PublicClient) CreateEventFilter(ctx context.Context, f LogFilter) (*Filter, error) {
	filter, err := f.rpc()
	if err != nil {
		return nil, fmt.Errorf("createEventFilter: %w", err)
	}
	var id string
	if err := c.request(ctx, &id, "eth_newFilter", filter); err != nil {
		return nil, err
	}
	return &Filter{ID: id, Kind: FilterEvent, Event: f.Event}, nil
}

// CreateBlockFilter installs a filter reporting new block hashes.
func (c *PublicClient) CreateBlockFilter(ctx context.Context) (*Filter, error) {
	var id string
	if err := c.request(ctx, &id, "eth_newBlockFilter"); err != nil {
		return nil, err
	}
	return &Filter{ID: id, Kind: FilterBlock}, nil
}

// CreatePendingTransactionFilter installs a filter reporting pending transaction hashes.
func (c *PublicClient) CreatePendingTransactionFilter(ctx context.Context) (*Filter, error) {
	var id string
	if err := c.request(ctx, &id, "eth_newPendingTransactionFilter"); err != nil {
		return nil, err
	}
	return &Filter{ID: id, Kind: FilterTransaction}, nil
}

// FilterChanges holds what a filter produced since the last poll. Logs is set
// for event filters, Hashes for block and pending transaction filters.
type FilterChanges struct {
	Logs   []types.Log   `json:"logs,omitempty"`
	Hashes []common.Hash `json:"hashes,omitempty"`
}

// GetFilterChanges returns the changes since the previous poll of the filter.
func (c *PublicClient) GetFilterChanges(ctx context.Context, f *Filter) (*FilterChanges, error) {
	var raw json.RawMessage
	if err := c.request(ctx, &raw, "eth_getFilterChanges", f.ID); err != nil {
		return nil, err
	}
	out := &FilterChanges{}
	if isNull(raw) {
		return out, nil
	}
	if f.Kind == FilterEvent {
		if err := json.Unmarshal(raw, &out.Logs); err != nil {
			return nil, fmt.Errorf("getFilterChanges: decode logs: %w", err)
		}
		return out, nil
	}
	if err := json.Unmarshal(raw, &out.Hashes); err != nil {
		return nil, fmt.Errorf("getFilterChanges: decode hashes: %w", err)
	}
	return out, nil
}

// GetFilterLogs returns every log matching an installed event filter.
func (c *PublicClient) GetFilterLogs(ctx context.Context, f *Filter) ([]types.Log, error) {
	if f.Kind != FilterEvent {
		return nil, fmt.Errorf("getFilterLogs: filter %s is a %s filter", f.ID, f.Kind)
	}
	var logs []types.Log
	if err := c.request(ctx, &logs, "eth_getFilterLogs", f.ID); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []types.Log{}
	}
	return logs, nil
}

// UninstallFilter removes a filter; false means the node no longer knew it.
func (c *PublicClient) UninstallFilter(ctx context.Context, f *Filter) (bool, error) {
	var ok bool
	if err := c.request(ctx, &ok, "eth_uninstallFilter", f.ID); err != nil {
		return false, err
	}
	return ok, nil
}

// DecodeEventLog decodes the indexed and data arguments of a log emitted by ev.
func DecodeEventLog(ev *abi.Event, log types.Log) (map[string]interface{}, error) {
	topics := log.Topics
	if !ev.Anonymous {
		if len(topics) == 0 || topics[0] != ev.ID {
			return nil, fmt.Errorf("decode %s: log signature does not match event", ev.Name)
		}
		topics = topics[1:]
	}
	indexed := indexedInputs(ev)
	if len(topics) != len(indexed) {
		return nil, fmt.Errorf("decode %s: expected %d indexed topics, got %d", ev.Name, len(indexed), len(topics))
	}

	out := make(map[string]interface{}, len(ev.Inputs))
	if err := ev.Inputs.UnpackIntoMap(out, log.Data); err != nil {
		return nil, fmt.Errorf("decode %s data: %w", ev.Name, err)
	}
	if err := abi.ParseTopicsIntoMap(out, indexed, topics); err != nil {
		return nil, fmt.Errorf("decode %s topics: %w", ev.Name, err)
	}
	return out, nil
}
