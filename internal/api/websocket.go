package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

// --- WebSocket Hub ---

type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan hubMessage
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mutex      sync.Mutex
}

type hubMessage struct {
	eventType string
	data      []byte
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// types is the set of event types the client asked for; nil means all.
	types map[string]bool
}

func (c *wsClient) wants(eventType string) bool {
	return c.types == nil || c.types[eventType]
}

func newHub() *Hub {
	return &Hub{
		broadcast:  make(chan hubMessage, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]bool),
	}
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if !client.wants(message.eventType) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) clientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

func (h *Hub) publish(eventType string, data []byte) {
	select {
	case h.broadcast <- hubMessage{eventType: eventType, data: data}:
	case <-h.done:
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// parseEventTypes reads ?types=block.new,logs; unknown names are ignored.
func parseEventTypes(raw string) map[string]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	known := make(map[string]bool, len(eventbus.Types))
	for _, t := range eventbus.Types {
		known[t] = true
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if known[t] {
			out[t] = true
		}
	}
	return out
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[api] websocket upgrade error:", err)
		return
	}

	hub := s.hub
	client := &wsClient{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		types: parseEventTypes(r.URL.Query().Get("types")),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case hub.unregister <- client:
			case <-hub.done:
			}
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	conn.Close()
}

type BroadcastMessage struct {
	Type      string      `json:"type"`
	Block     uint64      `json:"block,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

type WSBlock struct {
	Number        uint64       `json:"number"`
	Hash          *common.Hash `json:"hash,omitempty"`
	ParentHash    common.Hash  `json:"parent_hash"`
	Timestamp     time.Time    `json:"timestamp"`
	TxCount       int          `json:"tx_count"`
	GasUsed       uint64       `json:"gas_used"`
	GasLimit      uint64       `json:"gas_limit"`
	BaseFeePerGas string       `json:"base_fee_per_gas,omitempty"`
}

func wsBlock(b *evm.Block) WSBlock {
	out := WSBlock{
		Hash:       b.Hash,
		ParentHash: b.ParentHash,
		Timestamp:  b.Time(),
		TxCount:    b.TransactionCount(),
		GasUsed:    b.GasUsed,
		GasLimit:   b.GasLimit,
	}
	if b.Number != nil {
		out.Number = b.Number.Uint64()
	}
	if b.BaseFeePerGas != nil {
		out.BaseFeePerGas = b.BaseFeePerGas.String()
	}
	return out
}

func broadcastMessage(evt eventbus.Event) BroadcastMessage {
	payload := evt.Data
	if b, ok := evt.Data.(*evm.Block); ok {
		payload = wsBlock(b)
	}
	return BroadcastMessage{Type: evt.Type, Block: evt.Block, Timestamp: evt.Timestamp, Payload: payload}
}

// forwardEvents relays every bus event to the websocket hub until ctx is done.
func (s *Server) forwardEvents(ctx context.Context) {
	events := make(chan eventbus.Event, 256)
	for _, t := range eventbus.Types {
		s.bus.Subscribe(t, events)
	}
	defer func() {
		for _, t := range eventbus.Types {
			s.bus.Unsubscribe(t, events)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			data, err := json.Marshal(broadcastMessage(evt))
			if err != nil {
				log.Printf("[api] encode %s event: %v", evt.Type, err)
				continue
			}
			s.hub.publish(evt.Type, data)
		}
	}
}
