package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"evm-public-client/internal/eventbus"
	"evm-public-client/internal/evm"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

func TestParseEventTypes(t *testing.T) {
	if got := parseEventTypes(""); got != nil {
		t.Fatalf("parseEventTypes(%q)=%v want nil", "", got)
	}
	got := parseEventTypes("block.new, logs,bogus")
	if len(got) != 2 || !got["block.new"] || !got["logs"] {
		t.Fatalf("parseEventTypes()=%v", got)
	}
}

func TestWebSocketForwardsBusEvents(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	s := newTestServer(t, newFakeNode(), WithEventBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.run(ctx)
	go s.forwardEvents(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?types=block.new"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.clientCount() == 0 || bus.Subscribers(eventbus.TypeBlock) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	hash := common.Hash{0x07}
	bus.Publish(eventbus.Event{Type: eventbus.TypeBlockNumber, Block: 7, Data: 7})
	bus.Publish(eventbus.Event{Type: eventbus.TypeBlock, Block: 7, Data: &evm.Block{
		Number:            big.NewInt(7),
		Hash:              &hash,
		Timestamp:         1700000000,
		TransactionHashes: []common.Hash{{0x01}},
		BaseFeePerGas:     big.NewInt(9),
	}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string  `json:"type"`
		Block   uint64  `json:"block"`
		Payload WSBlock `json:"payload"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	if msg.Type != eventbus.TypeBlock {
		t.Fatalf("got %s message, block.number should have been filtered", msg.Type)
	}
	if msg.Payload.Number != 7 || msg.Payload.TxCount != 1 || msg.Payload.BaseFeePerGas != "9" {
		t.Fatalf("unexpected payload %+v", msg.Payload)
	}
}
