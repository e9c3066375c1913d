package api

import (
	"time"

	"github.com/gorilla/mux"
)

// immutableTTL bounds how long hash-addressed responses are cached.
const immutableTTL = 10 * time.Minute

func registerBaseRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	r.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET", "OPTIONS")
}

func registerAPIRoutes(r *mux.Router, s *Server) {
	registerChainRoutes(r, s)
	registerAccountRoutes(r, s)
	registerTransactionRoutes(r, s)
	registerGasRoutes(r, s)
	registerExecutionRoutes(r, s)
	registerObservedRoutes(r, s)
}

func registerChainRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/chain", s.handleChain).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/block-number", s.handleBlockNumber).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/blocks/{id}", s.handleGetBlock).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/blocks/{id}/transaction-count", s.handleBlockTransactionCount).Methods("GET", "OPTIONS")
}

func registerAccountRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/accounts/{address}/balance", s.handleBalance).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/accounts/{address}/nonce", s.handleNonce).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/accounts/{address}/code", s.handleCode).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/accounts/{address}/storage/{slot}", s.handleStorage).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/accounts/{address}/proof", s.handleProof).Methods("GET", "OPTIONS")
}

func registerTransactionRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/transactions/{hash}", s.handleGetTransaction).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/transactions/{hash}/receipt", s.handleGetReceipt).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/transactions/{hash}/confirmations", s.handleConfirmations).Methods("GET", "OPTIONS")
}

func registerGasRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/gas/price", s.handleGasPrice).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/gas/max-priority-fee", s.handleMaxPriorityFee).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/gas/fees", s.handleEstimateFees).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/gas/fee-history", s.handleFeeHistory).Methods("GET", "OPTIONS")
}

func registerExecutionRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/call", s.handleCall).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/estimate-gas", s.handleEstimateGas).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/access-list", s.handleAccessList).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/simulate", s.handleSimulate).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/logs", s.handleLogs).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/verify/hash", s.handleVerifyHash).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/verify/message", s.handleVerifyMessage).Methods("POST", "OPTIONS")
	r.HandleFunc("/v1/verify/typed-data", s.handleVerifyTypedData).Methods("POST", "OPTIONS")
}

func registerObservedRoutes(r *mux.Router, s *Server) {
	r.HandleFunc("/v1/observed/blocks", s.handleObservedBlocks).Methods("GET", "OPTIONS")
	r.HandleFunc("/v1/observed/blocks/{number}", s.handleObservedBlock).Methods("GET", "OPTIONS")
}
