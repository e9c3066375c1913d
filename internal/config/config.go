package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"evm-public-client/internal/chain"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/transport"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Chain        string `yaml:"chain" validate:"required"`
	RPCURL       string `yaml:"rpc_url" validate:"omitempty,url"`
	WSURL        string `yaml:"ws_url" validate:"omitempty,url"`
	RPCJWTSecret string `yaml:"rpc_jwt_secret"`
	// RPCJWTSecretFile points at a jwt.hex file; ignored when RPCJWTSecret is set.
	RPCJWTSecretFile string `yaml:"rpc_jwt_secret_file"`

	RPCTimeoutMS      int     `yaml:"rpc_timeout_ms" validate:"gte=0"`
	RPCRetryCount     int     `yaml:"rpc_retry_count" validate:"gte=0,lte=10"`
	RPCRetryDelayMS   int     `yaml:"rpc_retry_delay_ms" validate:"gte=0"`
	RPCRateLimitRPS   float64 `yaml:"rpc_rate_limit_rps" validate:"gte=0"`
	RPCRateLimitBurst int     `yaml:"rpc_rate_limit_burst" validate:"gte=0"`

	PollingIntervalMS int `yaml:"polling_interval_ms" validate:"gte=0"`
	// CacheTimeMS of nil keeps the client default (the polling interval).
	CacheTimeMS *int `yaml:"cache_time_ms" validate:"omitempty,gte=0"`

	APIPort           int     `yaml:"api_port" validate:"gte=1,lte=65535"`
	APIRateLimitRPS   float64 `yaml:"api_rate_limit_rps" validate:"gte=0"`
	APIRateLimitBurst int     `yaml:"api_rate_limit_burst" validate:"gte=0"`

	DatabaseURL string `yaml:"database_url"`
	MaxBackfill uint64 `yaml:"max_backfill"`

	WatchBlocks  bool `yaml:"watch_blocks"`
	WatchPending bool `yaml:"watch_pending"`
	// WatchMode picks how watchers receive updates.
	WatchMode string    `yaml:"watch_mode" validate:"oneof=auto poll subscribe"`
	WatchLogs *LogWatch `yaml:"watch_logs" validate:"omitempty"`
}

// LogWatch selects the logs the daemon follows and records.
type LogWatch struct {
	Addresses []string `yaml:"addresses" validate:"dive,eth_addr"`
	// EventABI is a JSON ABI fragment holding exactly one event.
	EventABI string `yaml:"event_abi"`
}

// LogFilter builds the filter the log watcher and recorder use. A nil
// receiver yields a nil filter.
func (w *LogWatch) LogFilter() (*evm.LogFilter, error) {
	if w == nil {
		return nil, nil
	}
	req := evm.LogFilterRequest{EventABI: w.EventABI}
	for _, a := range w.Addresses {
		req.Address = append(req.Address, common.HexToAddress(a))
	}
	f, err := req.Filter()
	if err != nil {
		return nil, fmt.Errorf("watch_logs: %w", err)
	}
	return &f, nil
}

// Default returns the settings used when neither file nor environment override them.
func Default() *Config {
	return &Config{
		Chain:           "mainnet",
		RPCTimeoutMS:    int(transport.DefaultTimeout / time.Millisecond),
		RPCRetryCount:   transport.DefaultRetryCount,
		RPCRetryDelayMS: int(transport.DefaultRetryDelay / time.Millisecond),
		APIPort:         8080,
		APIRateLimitRPS: 20,
		MaxBackfill:     1000,
		WatchBlocks:     true,
		WatchMode:       "auto",
	}
}

// Load reads the YAML file at path over the defaults, then applies the
// environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays any set environment variables.
func (c *Config) ApplyEnv() {
	c.Chain = getEnvString("CHAIN", c.Chain)
	c.RPCURL = getEnvString("RPC_URL", c.RPCURL)
	c.WSURL = getEnvString("WS_URL", c.WSURL)
	c.RPCJWTSecret = getEnvString("RPC_JWT_SECRET", c.RPCJWTSecret)
	c.RPCJWTSecretFile = getEnvString("RPC_JWT_SECRET_FILE", c.RPCJWTSecretFile)
	c.RPCTimeoutMS = getEnvInt("RPC_TIMEOUT_MS", c.RPCTimeoutMS)
	c.RPCRetryCount = getEnvInt("RPC_RETRY_COUNT", c.RPCRetryCount)
	c.RPCRetryDelayMS = getEnvInt("RPC_RETRY_DELAY_MS", c.RPCRetryDelayMS)
	c.RPCRateLimitRPS = getEnvFloat("RPC_RATE_LIMIT_RPS", c.RPCRateLimitRPS)
	c.RPCRateLimitBurst = getEnvInt("RPC_RATE_LIMIT_BURST", c.RPCRateLimitBurst)
	c.PollingIntervalMS = getEnvInt("POLLING_INTERVAL_MS", c.PollingIntervalMS)
	if v := os.Getenv("CACHE_TIME_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CacheTimeMS = &n
		}
	}
	c.APIPort = getEnvInt("PORT", c.APIPort)
	c.APIRateLimitRPS = getEnvFloat("API_RATE_LIMIT_RPS", c.APIRateLimitRPS)
	c.APIRateLimitBurst = getEnvInt("API_RATE_LIMIT_BURST", c.APIRateLimitBurst)
	c.DatabaseURL = getEnvString("DB_URL", c.DatabaseURL)
	if v := os.Getenv("MAX_BACKFILL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MaxBackfill = n
		}
	}
	c.WatchBlocks = getEnvBool("WATCH_BLOCKS", c.WatchBlocks)
	c.WatchPending = getEnvBool("WATCH_PENDING", c.WatchPending)
	c.WatchMode = strings.ToLower(getEnvString("WATCH_MODE", c.WatchMode))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field formats and that the chain is known.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", f.Namespace(), f.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := chain.Lookup(c.Chain); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.WatchLogs.LogFilter(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.RPCJWTSecret != "" {
		if _, err := transport.ParseJWTSecret(c.RPCJWTSecret); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

// NodeURL is the endpoint to dial: the configured RPC URL, else the
// websocket URL, else the chain's public default.
func (c *Config) NodeURL(ch chain.Chain) string {
	switch {
	case c.RPCURL != "":
		return c.RPCURL
	case c.WSURL != "":
		return c.WSURL
	}
	return ch.RPCURL
}

// Transport builds the transport settings for url.
func (c *Config) Transport(url string) (transport.Config, error) {
	cfg := transport.Config{
		URL:        url,
		Timeout:    time.Duration(c.RPCTimeoutMS) * time.Millisecond,
		RetryCount: c.RPCRetryCount,
		RetryDelay: time.Duration(c.RPCRetryDelayMS) * time.Millisecond,
		RateLimit:  c.RPCRateLimitRPS,
		Burst:      c.RPCRateLimitBurst,
	}
	var err error
	switch {
	case c.RPCJWTSecret != "":
		cfg.JWTSecret, err = transport.ParseJWTSecret(c.RPCJWTSecret)
	case c.RPCJWTSecretFile != "":
		cfg.JWTSecret, err = transport.LoadJWTSecret(c.RPCJWTSecretFile)
	}
	return cfg, err
}

// Poll maps WatchMode to the watchers' Poll option.
func (c *Config) Poll() *bool {
	var b bool
	switch c.WatchMode {
	case "poll":
		b = true
	case "subscribe":
		b = false
	default:
		return nil
	}
	return &b
}

func (c *Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMS) * time.Millisecond
}

// CacheTime returns the configured block number cache time, or -1 when unset.
func (c *Config) CacheTime() time.Duration {
	if c.CacheTimeMS == nil {
		return -1
	}
	return time.Duration(*c.CacheTimeMS) * time.Millisecond
}

func getEnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			return true
		case "0", "false", "no", "n":
			return false
		}
	}
	return defaultVal
}
