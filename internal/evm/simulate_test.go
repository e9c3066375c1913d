package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

func TestSimulateBlocks(t *testing.T) {
	erc20, err := ParseABI(erc20ABIJSON)
	require.NoError(t, err)
	balance, err := erc20.Methods["balanceOf"].Outputs.Pack(big.NewInt(500))
	require.NoError(t, err)
	revert := revertPayload(t, "transfer amount exceeds balance")

	simulated := blockJSON(101, big.NewInt(gwei))
	simulated["calls"] = []map[string]interface{}{
		{"returnData": hexutil.Bytes(balance), "logs": []interface{}{}, "gasUsed": "0x5f5e", "status": "0x1"},
		{"returnData": "0x", "logs": []interface{}{}, "gasUsed": "0x0", "status": "0x0",
			"error": map[string]interface{}{"code": 3, "message": "execution reverted", "data": hexutil.Encode(revert)}},
	}
	node := newScriptedNode().reply("eth_simulateV1", []interface{}{simulated})
	c := newTestClient(t, node)

	from := common.HexToAddress("0x5a0b54d5dc17e0aadc383d2db43b0a0d3e029c4c")
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	number := big.NewInt(101)
	gasLimit := uint64(60_000_000)

	blocks, err := c.SimulateBlocks(context.Background(), SimulateParams{
		Blocks: []SimulateBlock{{
			BlockOverrides: &BlockOverrides{Number: number, GasLimit: &gasLimit, BaseFeePerGas: big.NewInt(gwei)},
			Calls: []SimulateCall{
				{From: &from, To: &token, ABI: erc20, FunctionName: "balanceOf", Args: []interface{}{from}},
				{From: &from, To: &token, Value: big.NewInt(1), Data: common.FromHex("0xa9059cbb")},
			},
			StateOverrides: []StateOverride{{Address: from, Balance: big.NewInt(1e18)}},
		}},
		ReturnFullTransactions: true,
		TraceTransfers:         true,
		Validation:             true,
	})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(101), blocks[0].Number.Uint64())
	require.Len(t, blocks[0].Calls, 2)

	ok := blocks[0].Calls[0]
	require.Equal(t, CallSuccess, ok.Status)
	require.Equal(t, uint64(0x5f5e), ok.GasUsed)
	require.Equal(t, big.NewInt(500), ok.Result[0])

	failed := blocks[0].Calls[1]
	require.Equal(t, CallFailure, failed.Status)
	var execErr *ExecutionError
	require.ErrorAs(t, failed.Error, &execErr)
	require.Equal(t, "transfer amount exceeds balance", execErr.Reason())

	args := node.lastArgs("eth_simulateV1")
	require.Len(t, args, 2)
	require.Equal(t, "latest", argString(t, args[1]))

	var opts struct {
		BlockStateCalls []struct {
			BlockOverrides map[string]string                    `json:"blockOverrides"`
			StateOverrides map[common.Address]map[string]string `json:"stateOverrides"`
			Calls          []map[string]string                  `json:"calls"`
		} `json:"blockStateCalls"`
		TraceTransfers         bool `json:"traceTransfers"`
		Validation             bool `json:"validation"`
		ReturnFullTransactions bool `json:"returnFullTransactions"`
	}
	require.NoError(t, json.Unmarshal(args[0], &opts))
	require.True(t, opts.TraceTransfers)
	require.True(t, opts.Validation)
	require.True(t, opts.ReturnFullTransactions)
	bsc := opts.BlockStateCalls[0]
	require.Equal(t, "0x65", bsc.BlockOverrides["number"])
	require.Equal(t, "0x3938700", bsc.BlockOverrides["gasLimit"])
	require.Equal(t, "0xde0b6b3a7640000", bsc.StateOverrides[from]["balance"])
	require.Len(t, bsc.Calls, 2)
	require.Equal(t, "0x70a08231", bsc.Calls[0]["data"][:10])
	require.Equal(t, "0x1", bsc.Calls[1]["value"])
}

func TestSimulateBlocksRequiresBlocks(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	_, err := c.SimulateBlocks(context.Background(), SimulateParams{})
	require.Error(t, err)
}

func TestSimulateBlocksStateConflict(t *testing.T) {
	node := newScriptedNode()
	c := newTestClient(t, node)
	addr := common.Address{0x01}

	_, err := c.SimulateBlocks(context.Background(), SimulateParams{Blocks: []SimulateBlock{{
		Calls:          []SimulateCall{{To: &addr}},
		StateOverrides: []StateOverride{{Address: addr}, {Address: addr}},
	}}})
	require.ErrorIs(t, err, ErrAccountStateConflict)
	require.Zero(t, node.callCount("eth_simulateV1"))
}

func TestSimulatedCallJSON(t *testing.T) {
	call := SimulatedCall{Status: CallFailure, ReturnData: []byte{}, Error: &ExecutionError{Message: "out of gas"}}
	out, err := json.Marshal(call)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "failure", decoded["status"])
	require.Equal(t, "out of gas", decoded["error"])
}
