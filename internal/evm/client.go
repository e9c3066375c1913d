package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"evm-public-client/internal/chain"
	"evm-public-client/internal/transport"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/singleflight"
)

// Caller issues a single JSON-RPC request.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Subscriber is implemented by transports that can push notifications.
type Subscriber interface {
	Subscribe(ctx context.Context, namespace string, channel interface{}, args ...interface{}) (transport.Subscription, error)
	SupportsSubscriptions() bool
}

// PublicClient exposes the read-only ("public") node actions for one chain.
type PublicClient struct {
	caller          Caller
	chain           chain.Chain
	pollingInterval time.Duration
	cacheTime       time.Duration

	blockNumberMu   sync.Mutex
	blockNumber     uint64
	blockNumberAt   time.Time
	blockNumberCall singleflight.Group
}

type Option func(*PublicClient)

// WithPollingInterval sets the interval used by watchers and receipt waiting.
func WithPollingInterval(d time.Duration) Option {
	return func(c *PublicClient) {
		if d > 0 {
			c.pollingInterval = d
		}
	}
}

// WithCacheTime sets how long a fetched block number is reused. Zero disables caching.
func WithCacheTime(d time.Duration) Option {
	return func(c *PublicClient) {
		if d >= 0 {
			c.cacheTime = d
		}
	}
}

func NewPublicClient(caller Caller, c chain.Chain, opts ...Option) *PublicClient {
	pc := &PublicClient{
		caller:          caller,
		chain:           c,
		pollingInterval: c.DefaultPollingInterval(),
		cacheTime:       -1,
	}
	for _, opt := range opts {
		opt(pc)
	}
	if pc.cacheTime < 0 {
		pc.cacheTime = pc.pollingInterval
	}
	return pc
}

func (c *PublicClient) Chain() chain.Chain {
	return c.chain
}

func (c *PublicClient) PollingInterval() time.Duration {
	return c.pollingInterval
}

func (c *PublicClient) CacheTime() time.Duration {
	return c.cacheTime
}

// SupportsSubscriptions reports whether the underlying transport can push notifications.
func (c *PublicClient) SupportsSubscriptions() bool {
	s, ok := c.caller.(Subscriber)
	return ok && s.SupportsSubscriptions()
}

// Subscribe opens an eth_subscribe subscription delivering into channel.
func (c *PublicClient) Subscribe(ctx context.Context, channel interface{}, args ...interface{}) (transport.Subscription, error) {
	s, ok := c.caller.(Subscriber)
	if !ok || !s.SupportsSubscriptions() {
		return nil, ErrSubscriptionsUnsupported
	}
	sub, err := s.Subscribe(ctx, "eth", channel, args...)
	if err != nil {
		return nil, wrapRPCError("eth_subscribe", err)
	}
	return sub, nil
}

func (c *PublicClient) request(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return wrapRPCError(method, c.caller.CallContext(ctx, result, method, args...))
}

// GetChainID returns the chain id reported by the node.
func (c *PublicClient) GetChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := c.request(ctx, &id, "eth_chainId"); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func bigOrZero(b *hexutil.Big) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return (*big.Int)(b)
}

func bigOrNil(b *hexutil.Big) *big.Int {
	if b == nil {
		return nil
	}
	return (*big.Int)(b)
}
