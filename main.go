package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"evm-public-client/internal/api"
	"evm-public-client/internal/chain"
	"evm-public-client/internal/config"
	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/ingester"
	"evm-public-client/internal/repository"
	"evm-public-client/internal/transport"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

const recorderCheckpoint = "blocks"

func main() {
	// 1. Config
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}
	ch, err := chain.Lookup(cfg.Chain)
	if err != nil {
		log.Fatalf("%v", err)
	}
	nodeURL := cfg.NodeURL(ch)
	if nodeURL == "" {
		log.Fatalf("No RPC URL for chain %s (set RPC_URL or WS_URL)", ch.Name)
	}
	logFilter, err := cfg.WatchLogs.LogFilter()
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Println("Initializing EVM public client daemon...")
	log.Printf("Chain: %s (%d)", ch.Name, ch.ID)
	log.Printf("Node: %s", transport.RedactURL(nodeURL))
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("API Port: %d", cfg.APIPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Node client
	tc, err := cfg.Transport(nodeURL)
	if err != nil {
		log.Fatalf("Invalid transport config: %v", err)
	}
	tr, err := transport.Dial(ctx, tc)
	if err != nil {
		log.Fatalf("Failed to connect to node: %v", err)
	}
	defer tr.Close()

	opts := []evm.Option{evm.WithPollingInterval(cfg.PollingInterval())}
	if d := cfg.CacheTime(); d >= 0 {
		opts = append(opts, evm.WithCacheTime(d))
	}
	client := evm.NewPublicClient(tr, ch, opts...)

	if id, err := client.GetChainID(ctx); err != nil {
		log.Printf("Warning: eth_chainId failed: %v", err)
	} else if id != ch.ID {
		log.Printf("Warning: node reports chain id %d, configured %s is %d", id, ch.Name, ch.ID)
	}

	// 3. Event bus and watchers
	bus := eventbus.New()
	defer bus.Close()

	pipeline := ingester.NewPipeline(client, bus, ingester.PipelineConfig{
		WatchBlocks:     cfg.WatchBlocks,
		WatchPending:    cfg.WatchPending,
		LogFilter:       logFilter,
		Poll:            cfg.Poll(),
		PollingInterval: cfg.PollingInterval(),
	})

	serverOpts := []api.Option{
		api.WithWatchStatus(pipeline),
		api.WithEventBus(bus),
		api.WithRateLimit(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst),
	}

	var wg sync.WaitGroup

	// 4. Optional recorder (Postgres)
	if cfg.DatabaseURL != "" {
		repo, err := repository.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer repo.Close()

		if os.Getenv("SKIP_MIGRATION") == "true" {
			log.Println("Database Migration SKIPPED (SKIP_MIGRATION=true)")
		} else {
			log.Println("Running Database Migration...")
			if err := repo.Migrate(ctx); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			log.Println("Database Migration Complete.")
		}

		recorder := ingester.NewRecorder(repo, bus, client, ingester.RecorderConfig{
			ServiceName: recorderCheckpoint,
			MaxBackfill: cfg.MaxBackfill,
			LogFilter:   logFilter,
		})
		if !cfg.WatchBlocks {
			log.Println("Warning: WATCH_BLOCKS=false, the recorder only stores backfilled blocks")
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()

		serverOpts = append(serverOpts, api.WithRepository(repo, recorderCheckpoint))
	} else {
		log.Println("Recorder is DISABLED (DB_URL not set)")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Start(ctx)
	}()

	// 5. API
	api.BuildCommit = BuildCommit
	apiServer := api.NewServer(client, cfg.APIPort, serverOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Starting API Server on :%d", cfg.APIPort)
		serverErr <- apiServer.Start(ctx)
	}()

	select {
	case <-sigChan:
		log.Println("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			log.Printf("API Server failed: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API Server shutdown: %v", err)
	}
	cancel()
	wg.Wait()
}

var (
	dsnPasswordRe = regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	kvPasswordRe  = regexp.MustCompile(`(?i)(password=)(\S+)`)
)

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	// Fallback for DSN-like strings that do not parse as URLs.
	if dsnPasswordRe.MatchString(raw) {
		return dsnPasswordRe.ReplaceAllString(raw, `$1:****@`)
	}
	return kvPasswordRe.ReplaceAllString(raw, `$1****`)
}
