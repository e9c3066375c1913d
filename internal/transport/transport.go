package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetryCount = 3
	DefaultRetryDelay = 150 * time.Millisecond
)

// ErrSubscriptionsUnsupported is returned by Subscribe on request/response transports.
var ErrSubscriptionsUnsupported = errors.New("transport does not support subscriptions")

// Config controls how the node endpoint is dialed and how each request is issued.
type Config struct {
	URL        string
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
	// RateLimit is requests per second; zero disables client-side limiting.
	RateLimit float64
	Burst     int
	// JWTSecret is the raw 32-byte secret used for engine-style bearer auth.
	JWTSecret []byte
	Headers   map[string]string
}

// Subscription is the lifecycle handle of a push subscription.
type Subscription interface {
	Err() <-chan error
	Unsubscribe()
}

type rawClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Subscribe(ctx context.Context, namespace string, channel interface{}, args ...interface{}) (*rpc.ClientSubscription, error)
	Close()
}

// Transport wraps a go-ethereum rpc client with timeouts, retries and rate limiting.
type Transport struct {
	client        rawClient
	url           string
	timeout       time.Duration
	retryCount    int
	retryDelay    time.Duration
	limiter       *rate.Limiter
	subscriptions bool
}

// Dial connects to the endpoint named by cfg.URL. http(s) endpoints are
// request/response only; ws(s), ipc paths and unix sockets accept subscriptions.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("transport url is required")
	}
	cfg = withDefaults(cfg)

	opts := make([]rpc.ClientOption, 0, 4)
	if isHTTP(cfg.URL) {
		opts = append(opts, rpc.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	if len(cfg.JWTSecret) > 0 {
		opts = append(opts, rpc.WithHTTPAuth(NewJWTAuth(cfg.JWTSecret)))
	}
	if len(cfg.Headers) > 0 {
		h := http.Header{}
		for k, v := range cfg.Headers {
			h.Set(k, v)
		}
		opts = append(opts, rpc.WithHeaders(h))
	}

	c, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", RedactURL(cfg.URL), err)
	}
	return newTransport(c, cfg, !isHTTP(cfg.URL)), nil
}

// NewFromClient wraps an already connected rpc client, e.g. one built with rpc.DialInProc.
func NewFromClient(c *rpc.Client, cfg Config, subscriptions bool) *Transport {
	return newTransport(c, withDefaults(cfg), subscriptions)
}

func newTransport(c rawClient, cfg Config, subscriptions bool) *Transport {
	t := &Transport{
		client:        c,
		url:           cfg.URL,
		timeout:       cfg.Timeout,
		retryCount:    cfg.RetryCount,
		retryDelay:    cfg.RetryDelay,
		subscriptions: subscriptions,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return t
}

func withDefaults(cfg Config) Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return cfg
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// CallContext performs a single JSON-RPC request, retrying retryable failures
// with exponential backoff.
func (t *Transport) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	var err error
	for attempt := 0; ; attempt++ {
		if t.limiter != nil {
			if werr := t.limiter.Wait(ctx); werr != nil {
				return fmt.Errorf("%s: rate limiter: %w", method, werr)
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		err = t.client.CallContext(callCtx, result, method, args...)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt >= t.retryCount || !ShouldRetry(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff(t.retryDelay, attempt)):
		}
	}
}

// Subscribe opens a push subscription in the given namespace ("eth").
func (t *Transport) Subscribe(ctx context.Context, namespace string, channel interface{}, args ...interface{}) (Subscription, error) {
	if !t.subscriptions {
		return nil, ErrSubscriptionsUnsupported
	}
	sub, err := t.client.Subscribe(ctx, namespace, channel, args...)
	if err != nil {
		if errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, ErrSubscriptionsUnsupported
		}
		return nil, err
	}
	return sub, nil
}

// SupportsSubscriptions reports whether Subscribe can succeed on this transport.
func (t *Transport) SupportsSubscriptions() bool {
	return t.subscriptions
}

// URL returns the endpoint with credentials stripped.
func (t *Transport) URL() string {
	return RedactURL(t.url)
}

func (t *Transport) Close() {
	t.client.Close()
}

// RedactURL hides userinfo and query strings (API keys are often passed there).
func RedactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	u.RawQuery = ""
	return u.String()
}
