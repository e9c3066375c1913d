package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func transferLog(t *testing.T, token, from, to common.Address, value int64, number uint64) *types.Log {
	t.Helper()
	erc20, err := ParseABI(erc20ABIJSON)
	require.NoError(t, err)
	ev := erc20.Events["Transfer"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(value))
	require.NoError(t, err)
	return &types.Log{
		Address:     token,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: number,
		TxHash:      common.Hash{0x0e},
		BlockHash:   common.Hash{0x0b},
	}
}

func TestLogFilterTopicsFromEventArgs(t *testing.T) {
	erc20, err := ParseABI(erc20ABIJSON)
	require.NoError(t, err)
	ev := erc20.Events["Transfer"]
	from := common.Address{0x01}
	to := common.Address{0x02}

	topics, err := LogFilter{Event: &ev, Args: []interface{}{from}}.topics()
	require.NoError(t, err)
	require.Equal(t, []interface{}{ev.ID, common.BytesToHash(from.Bytes())}, topics)

	topics, err = LogFilter{Event: &ev, Args: []interface{}{nil, to}}.topics()
	require.NoError(t, err)
	require.Equal(t, []interface{}{ev.ID, nil, common.BytesToHash(to.Bytes())}, topics)

	topics, err = LogFilter{Event: &ev}.topics()
	require.NoError(t, err)
	require.Equal(t, []interface{}{ev.ID}, topics)

	_, err = LogFilter{Event: &ev, Args: []interface{}{from, to, big.NewInt(1)}}.topics()
	require.Error(t, err)
}

func TestLogFilterRawTopics(t *testing.T) {
	a, b := common.Hash{0x0a}, common.Hash{0x0b}
	topics, err := LogFilter{Topics: [][]common.Hash{{a}, nil, {a, b}, nil}}.topics()
	require.NoError(t, err)
	require.Equal(t, []interface{}{a, nil, []common.Hash{a, b}}, topics)
}

func TestGetLogs(t *testing.T) {
	token := common.Address{0x70}
	log := transferLog(t, token, common.Address{0x01}, common.Address{0x02}, 5, 10)
	node := newScriptedNode().reply("eth_getLogs", []*types.Log{log})
	c := newTestClient(t, node)

	erc20, err := ParseABI(erc20ABIJSON)
	require.NoError(t, err)
	ev := erc20.Events["Transfer"]

	logs, err := c.GetLogs(context.Background(), LogFilter{
		Addresses: []common.Address{token},
		Event:     &ev,
		FromBlock: AtNumber(1),
		ToBlock:   AtTag(TagLatest),
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, uint64(10), logs[0].BlockNumber)

	filter := argObject(t, node.lastArgs("eth_getLogs")[0])
	require.Equal(t, "0x1", filter["fromBlock"])
	require.Equal(t, "latest", filter["toBlock"])
	require.Len(t, filter["topics"], 1)
	require.NotContains(t, filter, "blockHash")
}

func TestGetLogsRejectsHashWithRange(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	hash := common.Hash{0x01}
	_, err := c.GetLogs(context.Background(), LogFilter{BlockHash: &hash, FromBlock: AtNumber(1)})
	require.Error(t, err)
}

func TestDecodeEventLog(t *testing.T) {
	erc20, err := ParseABI(erc20ABIJSON)
	require.NoError(t, err)
	ev := erc20.Events["Transfer"]
	from := common.Address{0x01}
	to := common.Address{0x02}

	decoded, err := DecodeEventLog(&ev, *transferLog(t, common.Address{0x70}, from, to, 42, 1))
	require.NoError(t, err)
	require.Equal(t, from, decoded["from"])
	require.Equal(t, to, decoded["to"])
	require.Equal(t, big.NewInt(42), decoded["value"])

	other := *transferLog(t, common.Address{0x70}, from, to, 42, 1)
	other.Topics[0] = common.Hash{0xff}
	_, err = DecodeEventLog(&ev, other)
	require.Error(t, err)
}

func TestFilterLifecycle(t *testing.T) {
	token := common.Address{0x70}
	log := transferLog(t, token, common.Address{0x01}, common.Address{0x02}, 5, 10)
	blockHash := common.Hash{0x0b}
	node := newScriptedNode().
		reply("eth_newFilter", "0x1").
		reply("eth_newBlockFilter", "0x2").
		reply("eth_newPendingTransactionFilter", "0x3").
		on("eth_getFilterChanges", func(args []json.RawMessage) (interface{}, error) {
			var id string
			if err := json.Unmarshal(args[0], &id); err != nil {
				return nil, err
			}
			if id == "0x1" {
				return []*types.Log{log}, nil
			}
			return []common.Hash{blockHash}, nil
		}).
		reply("eth_getFilterLogs", []*types.Log{log}).
		reply("eth_uninstallFilter", true)
	c := newTestClient(t, node)
	ctx := context.Background()

	events, err := c.CreateEventFilter(ctx, LogFilter{Addresses: []common.Address{token}})
	require.NoError(t, err)
	require.Equal(t, FilterEvent, events.Kind)
	changes, err := c.GetFilterChanges(ctx, events)
	require.NoError(t, err)
	require.Len(t, changes.Logs, 1)
	all, err := c.GetFilterLogs(ctx, events)
	require.NoError(t, err)
	require.Len(t, all, 1)

	blocks, err := c.CreateBlockFilter(ctx)
	require.NoError(t, err)
	changes, err = c.GetFilterChanges(ctx, blocks)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{blockHash}, changes.Hashes)
	_, err = c.GetFilterLogs(ctx, blocks)
	require.Error(t, err)

	pending, err := c.CreatePendingTransactionFilter(ctx)
	require.NoError(t, err)
	require.Equal(t, FilterTransaction, pending.Kind)

	removed, err := c.UninstallFilter(ctx, events)
	require.NoError(t, err)
	require.True(t, removed)
}

func TestLogFilterRequest(t *testing.T) {
	var req LogFilterRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"address": ["0x0000000000000000000000000000000000000070"],
		"eventAbi": "[{\"type\":\"event\",\"name\":\"Transfer\",\"inputs\":[{\"name\":\"from\",\"type\":\"address\",\"indexed\":true},{\"name\":\"to\",\"type\":\"address\",\"indexed\":true},{\"name\":\"value\",\"type\":\"uint256\"}]}]",
		"fromBlock": "100",
		"toBlock": "latest"
	}`), &req))

	f, err := req.Filter()
	require.NoError(t, err)
	require.NotNil(t, f.Event)
	require.Equal(t, "Transfer", f.Event.Name)
	require.Equal(t, int64(100), f.FromBlock.Number.Int64())
	require.Equal(t, TagLatest, f.ToBlock.Tag)
}
