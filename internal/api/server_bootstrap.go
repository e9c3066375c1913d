package api

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"evm-public-client/internal/chain"
	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"
	"evm-public-client/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/mux"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Client is the subset of the public client the HTTP API serves.
type Client interface {
	Chain() chain.Chain
	GetChainID(ctx context.Context) (uint64, error)
	GetBalance(ctx context.Context, p evm.AddressParams) (*big.Int, error)
	GetTransactionCount(ctx context.Context, p evm.AddressParams) (uint64, error)
	GetCode(ctx context.Context, p evm.AddressParams) ([]byte, error)
	GetStorageAt(ctx context.Context, p evm.StorageParams) (common.Hash, error)
	GetProof(ctx context.Context, p evm.ProofParams) (*evm.AccountProof, error)
	GetBlock(ctx context.Context, p evm.GetBlockParams) (*evm.Block, error)
	GetBlockNumber(ctx context.Context, p evm.GetBlockNumberParams) (uint64, error)
	GetBlockTransactionCount(ctx context.Context, block evm.BlockSelector) (uint64, error)
	GetTransaction(ctx context.Context, p evm.GetTransactionParams) (*evm.Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	GetTransactionConfirmations(ctx context.Context, hash common.Hash) (uint64, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	EstimateMaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	EstimateFeesPerGas(ctx context.Context, p evm.EstimateFeesParams) (*evm.FeeValues, error)
	GetFeeHistory(ctx context.Context, p evm.FeeHistoryParams) (*evm.FeeHistory, error)
	Call(ctx context.Context, p evm.CallParams) ([]byte, error)
	EstimateGas(ctx context.Context, p evm.CallParams) (uint64, error)
	CreateAccessList(ctx context.Context, p evm.CallParams) (*evm.AccessListResult, error)
	SimulateBlocks(ctx context.Context, p evm.SimulateParams) ([]evm.SimulatedBlock, error)
	GetLogs(ctx context.Context, f evm.LogFilter) ([]types.Log, error)
	VerifyHash(ctx context.Context, p evm.VerifyHashParams) (bool, error)
	VerifyMessage(ctx context.Context, p evm.VerifyMessageParams) (bool, error)
	VerifyTypedData(ctx context.Context, p evm.VerifyTypedDataParams) (bool, error)
}

var _ Client = (*evm.PublicClient)(nil)

// ObservedStore reads what the recorder persisted.
type ObservedStore interface {
	LatestBlocks(ctx context.Context, limit int) ([]models.ObservedBlock, error)
	GetObservedBlock(ctx context.Context, number uint64) (*models.ObservedBlock, error)
	LogsForBlock(ctx context.Context, number uint64) ([]models.ObservedLog, error)
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
}

// WatchStatus reports the state of the live watchers.
type WatchStatus interface {
	Head() uint64
	LastSeen() time.Time
	Errors() uint64
}

type Server struct {
	client     Client
	repo       ObservedStore
	watch      WatchStatus
	bus        *eventbus.Bus
	hub        *Hub
	limiter    *ipLimiter
	cache      *responseCache
	httpServer *http.Server

	// checkpointName is the recorder checkpoint reported by /status.
	checkpointName string

	statusCache struct {
		mu        sync.Mutex
		payload   []byte
		expiresAt time.Time
	}
}

type Option func(*Server)

// WithRepository enables the /v1/observed endpoints.
func WithRepository(repo ObservedStore, checkpointName string) Option {
	return func(s *Server) {
		s.repo = repo
		s.checkpointName = checkpointName
	}
}

func WithWatchStatus(w WatchStatus) Option {
	return func(s *Server) { s.watch = w }
}

// WithEventBus feeds bus events to websocket clients.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(s *Server) { s.bus = bus }
}

// WithRateLimit limits each client IP to rps requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) { s.limiter = newIPLimiter(rps, burst, 15*time.Minute) }
}

func NewServer(client Client, port int, opts ...Option) *Server {
	r := mux.NewRouter()

	s := &Server{
		client: client,
		hub:    newHub(),
		cache:  newResponseCache(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(commonMiddleware)
	r.Use(rateLimitMiddleware(s.limiter))

	registerBaseRoutes(r, s)
	registerAPIRoutes(r, s)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the websocket hub and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	if s.bus != nil {
		go s.forwardEvents(ctx)
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func commonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
