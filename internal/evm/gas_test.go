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

const gwei = 1_000_000_000

func TestScaleByMultiplier(t *testing.T) {
	cases := []struct {
		v    int64
		mult float64
		want int64
	}{
		{100, 1.2, 120},
		{101, 1.2, 121},
		{7, 1.25, 8},
		{10, 1, 10},
		{3, 1.111, 3},
		{1000, 1.111, 1111},
		{1000, 100, 100000},
		{3, 99.999999999, 299},
	}
	for _, tc := range cases {
		got := scaleByMultiplier(big.NewInt(tc.v), tc.mult)
		if got.Int64() != tc.want {
			t.Fatalf("scaleByMultiplier(%d, %v)=%d, want %d", tc.v, tc.mult, got.Int64(), tc.want)
		}
	}
}

func TestScaleByMultiplierLargeValues(t *testing.T) {
	got := scaleByMultiplier(big.NewInt(10), 1.0000000000000002)
	require.Equal(t, int64(10), got.Int64())

	fee, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)
	want, _ := new(big.Int).SetString("1500000000000000000000000", 10)
	require.Equal(t, want, scaleByMultiplier(fee, 1.5))
}

func TestEstimateFeesPerGasEIP1559(t *testing.T) {
	node := newScriptedNode().
		reply("eth_getBlockByNumber", blockJSON(1, big.NewInt(100*gwei))).
		reply("eth_maxPriorityFeePerGas", "0x77359400") // 2 gwei
	c := newTestClient(t, node)

	fees, err := c.EstimateFeesPerGas(context.Background(), EstimateFeesParams{})
	require.NoError(t, err)
	require.Equal(t, FeeTypeEIP1559, fees.Type)
	require.Equal(t, big.NewInt(2*gwei), fees.MaxPriorityFeePerGas)
	require.Equal(t, big.NewInt(122*gwei), fees.MaxFeePerGas)
	require.Nil(t, fees.GasPrice)
}

func TestEstimateFeesPerGasLegacyChain(t *testing.T) {
	node := newScriptedNode().
		reply("eth_getBlockByNumber", blockJSON(1, nil)).
		reply("eth_gasPrice", "0x2540be400") // 10 gwei
	c := newTestClient(t, node)

	fees, err := c.EstimateFeesPerGas(context.Background(), EstimateFeesParams{BaseFeeMultiplier: 1.5})
	require.NoError(t, err)
	require.Equal(t, FeeTypeLegacy, fees.Type)
	require.Equal(t, big.NewInt(15*gwei), fees.GasPrice)
}

func TestEstimateFeesPerGasRejectsSmallMultiplier(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	_, err := c.EstimateFeesPerGas(context.Background(), EstimateFeesParams{BaseFeeMultiplier: 0.5})
	require.Error(t, err)
}

func TestEstimateFeesPerGasRejectsLargeMultiplier(t *testing.T) {
	node := newScriptedNode().reply("eth_getBlockByNumber", blockJSON(1, big.NewInt(100*gwei)))
	c := newTestClient(t, node)
	for _, m := range []float64{100.5, 1000, 1e19, 1e300} {
		_, err := c.EstimateFeesPerGas(context.Background(), EstimateFeesParams{BaseFeeMultiplier: m})
		require.Error(t, err, "multiplier %v", m)
	}
	require.Equal(t, 0, node.callCount("eth_getBlockByNumber"))
}

func TestEstimateMaxPriorityFeeFallsBackToGasPrice(t *testing.T) {
	node := newScriptedNode().
		reply("eth_getBlockByNumber", blockJSON(1, big.NewInt(10*gwei))).
		reply("eth_gasPrice", "0x2cb417800") // 12 gwei
	c := newTestClient(t, node)

	tip, err := c.EstimateMaxPriorityFeePerGas(context.Background())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(2*gwei), tip)
	require.Equal(t, 1, node.callCount("eth_maxPriorityFeePerGas"))
}

func TestGetFeeHistory(t *testing.T) {
	node := newScriptedNode().reply("eth_feeHistory", map[string]interface{}{
		"oldestBlock":   "0x10",
		"baseFeePerGas": []string{"0x1", "0x2", "0x3"},
		"gasUsedRatio":  []float64{0.5, 0.25},
		"reward":        [][]string{{"0x1", "0x2"}, {"0x3", "0x4"}},
	})
	c := newTestClient(t, node)

	hist, err := c.GetFeeHistory(context.Background(), FeeHistoryParams{BlockCount: 2, RewardPercentiles: []float64{25, 75}})
	require.NoError(t, err)
	require.Equal(t, int64(16), hist.OldestBlock.Int64())
	require.Len(t, hist.BaseFeePerGas, 3)
	require.Equal(t, int64(4), hist.Reward[1][1].Int64())

	args := node.lastArgs("eth_feeHistory")
	require.Equal(t, "0x2", argString(t, args[0]))
	require.Equal(t, "latest", argString(t, args[1]))
	require.JSONEq(t, `[25,75]`, string(args[2]))
}

func TestGetFeeHistoryValidatesPercentiles(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	ctx := context.Background()

	_, err := c.GetFeeHistory(ctx, FeeHistoryParams{BlockCount: 2, RewardPercentiles: []float64{75, 25}})
	require.Error(t, err)
	_, err = c.GetFeeHistory(ctx, FeeHistoryParams{BlockCount: 2, RewardPercentiles: []float64{101}})
	require.Error(t, err)
	_, err = c.GetFeeHistory(ctx, FeeHistoryParams{BlockCount: 0})
	require.Error(t, err)
}

func TestEstimateGasOmitsBlockWhenUnset(t *testing.T) {
	node := newScriptedNode().reply("eth_estimateGas", "0x5208")
	c := newTestClient(t, node)
	to := common.Address{0x01}

	gas, err := c.EstimateGas(context.Background(), CallParams{To: &to, Value: big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, uint64(21000), gas)
	require.Len(t, node.lastArgs("eth_estimateGas"), 1)

	_, err = c.EstimateGas(context.Background(), CallParams{To: &to, Block: AtTag(TagPending)})
	require.NoError(t, err)
	require.Len(t, node.lastArgs("eth_estimateGas"), 2)
}

func TestCallParamsRejectMixedFeeFields(t *testing.T) {
	c := newTestClient(t, newScriptedNode())
	_, err := c.EstimateGas(context.Background(), CallParams{GasPrice: big.NewInt(1), MaxFeePerGas: big.NewInt(2)})
	require.Error(t, err)
}

func TestCreateAccessList(t *testing.T) {
	token := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	slot := common.HexToHash("0x01")
	node := newScriptedNode().reply("eth_createAccessList", map[string]interface{}{
		"accessList": types.AccessList{{Address: token, StorageKeys: []common.Hash{slot}}},
		"gasUsed":    "0x6a2e",
	})
	c := newTestClient(t, node)

	from := common.Address{0x0f}
	res, err := c.CreateAccessList(context.Background(), CallParams{
		Account:  &from,
		To:       &token,
		Data:     common.FromHex("0x70a08231"),
		GasPrice: big.NewInt(gwei),
		Block:    AtNumber(5),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(27182), res.GasUsed)
	require.Len(t, res.AccessList, 1)
	require.Equal(t, token, res.AccessList[0].Address)

	args := node.lastArgs("eth_createAccessList")
	require.Len(t, args, 2)
	call := argObject(t, args[0])
	require.Equal(t, "0x70a08231", call["data"])
	require.Equal(t, "0x3b9aca00", call["gasPrice"])
	require.Equal(t, "0x5", argString(t, args[1]))
}

func TestCreateAccessListSurfacesExecutionError(t *testing.T) {
	node := newScriptedNode().on("eth_createAccessList", func([]json.RawMessage) (interface{}, error) {
		return map[string]interface{}{
			"accessList": []interface{}{},
			"gasUsed":    "0x0",
			"error":      "execution reverted",
		}, nil
	})
	c := newTestClient(t, node)

	_, err := c.CreateAccessList(context.Background(), CallParams{To: &common.Address{}})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, "execution reverted", execErr.Message)
}
