package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"evm-public-client/internal/evm"
)

const statusCacheTTL = 3 * time.Second

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	s.statusCache.mu.Lock()
	if now.Before(s.statusCache.expiresAt) && len(s.statusCache.payload) > 0 {
		cached := append([]byte(nil), s.statusCache.payload...)
		s.statusCache.mu.Unlock()
		w.Write(cached)
		return
	}
	s.statusCache.mu.Unlock()

	payload, err := s.buildStatusPayload(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.statusCache.mu.Lock()
	s.statusCache.payload = payload
	s.statusCache.expiresAt = time.Now().Add(statusCacheTTL)
	s.statusCache.mu.Unlock()

	w.Write(payload)
}

func (s *Server) buildStatusPayload(ctx context.Context) ([]byte, error) {
	ch := s.client.Chain()
	status := map[string]interface{}{
		"chain_id":   ch.ID,
		"chain_name": ch.Name,
		"commit":     BuildCommit,
		"ws_clients": s.hub.clientCount(),
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}

	// A slow node should not hang the status page.
	nodeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	zero := time.Duration(0)
	if n, err := s.client.GetBlockNumber(nodeCtx, evm.GetBlockNumberParams{CacheTime: &zero}); err == nil {
		status["node_block_number"] = n
	} else {
		status["node_error"] = err.Error()
	}

	if s.watch != nil {
		status["head"] = s.watch.Head()
		status["watch_errors"] = s.watch.Errors()
		if seen := s.watch.LastSeen(); !seen.IsZero() {
			status["last_seen"] = seen.Format(time.RFC3339)
			status["head_age_seconds"] = int64(time.Since(seen).Seconds())
		}
	}
	if s.bus != nil {
		status["bus_dropped"] = s.bus.Dropped()
	}
	if s.repo != nil && s.checkpointName != "" {
		if cp, err := s.repo.GetCheckpoint(ctx, s.checkpointName); err == nil {
			status["recorded_height"] = cp
		} else {
			status["recorder_error"] = err.Error()
		}
	}

	return json.Marshal(status)
}
