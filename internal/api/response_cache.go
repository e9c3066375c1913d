package api

import (
	"net/http"
	"sync"
	"time"
)

// responseCache holds serialized JSON responses for lookups whose answer
// cannot change, such as blocks addressed by hash.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	maxSize int
}

type cacheEntry struct {
	body      []byte
	expiresAt time.Time
}

func newResponseCache() *responseCache {
	return &responseCache{entries: make(map[string]*cacheEntry), maxSize: 4096}
}

// get returns cached response bytes if the key exists and hasn't expired.
func (c *responseCache) get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.body, true
}

func (c *responseCache) set(key string, body []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if len(c.entries) >= c.maxSize {
		for k, e := range c.entries {
			if now.After(e.expiresAt) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.maxSize {
			return
		}
	}
	c.entries[key] = &cacheEntry{
		body:      body,
		expiresAt: now.Add(ttl),
	}
}

// cachedHandler caches the JSON response of handler for ttl, keyed by path and query.
// Only successful responses are stored.
func (s *Server) cachedHandler(ttl time.Duration, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path + "?" + r.URL.RawQuery

		if body, ok := s.cache.get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.Write(body)
			return
		}

		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		handler(rec, r)

		if rec.statusCode >= 200 && rec.statusCode < 300 && len(rec.body) > 0 {
			s.cache.set(key, rec.body, ttl)
		}
	}
}

// responseRecorder captures the response body while still writing to the client.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}
