package chain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Multicall3 is deployed at the same address on every chain in the registry.
var Multicall3 = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

type NativeCurrency struct {
	Name     string `json:"name" yaml:"name"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// Chain describes an EVM network the public client can talk to.
type Chain struct {
	ID             uint64         `json:"id"`
	Name           string         `json:"name"`
	NativeCurrency NativeCurrency `json:"native_currency"`
	RPCURL         string         `json:"rpc_url"`
	WSURL          string         `json:"ws_url,omitempty"`
	BlockTime      time.Duration  `json:"block_time"`
	Multicall3     common.Address `json:"multicall3"`
	Testnet        bool           `json:"testnet"`
}

var ether = NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18}

var registry = map[string]Chain{
	"mainnet": {
		ID:             1,
		Name:           "Ethereum",
		NativeCurrency: ether,
		RPCURL:         "https://eth.merkle.io",
		BlockTime:      12 * time.Second,
		Multicall3:     Multicall3,
	},
	"sepolia": {
		ID:             11155111,
		Name:           "Sepolia",
		NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		RPCURL:         "https://sepolia.drpc.org",
		BlockTime:      12 * time.Second,
		Multicall3:     Multicall3,
		Testnet:        true,
	},
	"holesky": {
		ID:             17000,
		Name:           "Holesky",
		NativeCurrency: NativeCurrency{Name: "Holesky Ether", Symbol: "ETH", Decimals: 18},
		RPCURL:         "https://ethereum-holesky-rpc.publicnode.com",
		BlockTime:      12 * time.Second,
		Multicall3:     Multicall3,
		Testnet:        true,
	},
	"base": {
		ID:             8453,
		Name:           "Base",
		NativeCurrency: ether,
		RPCURL:         "https://mainnet.base.org",
		BlockTime:      2 * time.Second,
		Multicall3:     Multicall3,
	},
	"optimism": {
		ID:             10,
		Name:           "OP Mainnet",
		NativeCurrency: ether,
		RPCURL:         "https://mainnet.optimism.io",
		BlockTime:      2 * time.Second,
		Multicall3:     Multicall3,
	},
	"arbitrum": {
		ID:             42161,
		Name:           "Arbitrum One",
		NativeCurrency: ether,
		RPCURL:         "https://arb1.arbitrum.io/rpc",
		BlockTime:      250 * time.Millisecond,
		Multicall3:     Multicall3,
	},
	"polygon": {
		ID:             137,
		Name:           "Polygon",
		NativeCurrency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
		RPCURL:         "https://polygon-rpc.com",
		BlockTime:      2 * time.Second,
		Multicall3:     Multicall3,
	},
	"flow-evm": {
		ID:             747,
		Name:           "Flow EVM Mainnet",
		NativeCurrency: NativeCurrency{Name: "Flow", Symbol: "FLOW", Decimals: 18},
		RPCURL:         "https://mainnet.evm.nodes.onflow.org",
		BlockTime:      time.Second,
		Multicall3:     Multicall3,
	},
	"flow-evm-testnet": {
		ID:             545,
		Name:           "Flow EVM Testnet",
		NativeCurrency: NativeCurrency{Name: "Flow", Symbol: "FLOW", Decimals: 18},
		RPCURL:         "https://testnet.evm.nodes.onflow.org",
		BlockTime:      time.Second,
		Multicall3:     Multicall3,
		Testnet:        true,
	},
}

// Lookup resolves a chain by registry name. An empty name selects mainnet.
func Lookup(name string) (Chain, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		normalized = "mainnet"
	}
	normalized = strings.ReplaceAll(normalized, "_", "-")
	if c, ok := registry[normalized]; ok {
		return c, nil
	}
	return Chain{}, fmt.Errorf("unsupported chain %q (known: %s)", name, strings.Join(Names(), ", "))
}

// ByID returns the registered chain with the given chain id.
func ByID(id uint64) (Chain, bool) {
	for _, c := range registry {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

// Names lists registry keys in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DefaultPollingInterval is half the block time, clamped to [500ms, 4s].
func (c Chain) DefaultPollingInterval() time.Duration {
	interval := c.BlockTime / 2
	if interval < 500*time.Millisecond {
		return 500 * time.Millisecond
	}
	if interval > 4*time.Second {
		return 4 * time.Second
	}
	return interval
}
