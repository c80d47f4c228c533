package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// tradeServer is a fake per-symbol trade stream endpoint.
type tradeServer struct {
	t *testing.T

	mu       sync.Mutex
	sessions map[string][]*websocket.Conn // path -> open conns
	dials    map[string]int

	server *httptest.Server
}

func newTradeServer(t *testing.T) *tradeServer {
	ts := &tradeServer{
		t:        t,
		sessions: make(map[string][]*websocket.Conn),
		dials:    make(map[string]int),
	}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.sessions[r.URL.Path] = append(ts.sessions[r.URL.Path], conn)
		ts.dials[r.URL.Path]++
		ts.mu.Unlock()

		// Drain client frames so pings are answered by gorilla's
		// default handler.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *tradeServer) url() string {
	return "ws" + strings.TrimPrefix(ts.server.URL, "http")
}

// send writes a raw message on the most recent connection for a symbol.
func (ts *tradeServer) send(symbol, message string) error {
	path := "/ws/" + symbol + "@trade"
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		conns := ts.sessions[path]
		ts.mu.Unlock()
		if len(conns) > 0 {
			conn := conns[len(conns)-1]
			return conn.WriteMessage(websocket.TextMessage, []byte(message))
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("no connection for %s", symbol)
}

// dropAll closes every open connection for a symbol.
func (ts *tradeServer) dropAll(symbol string) {
	path := "/ws/" + symbol + "@trade"
	ts.mu.Lock()
	for _, conn := range ts.sessions[path] {
		conn.Close()
	}
	ts.sessions[path] = nil
	ts.mu.Unlock()
}

func (ts *tradeServer) dialCount(symbol string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.dials["/ws/"+symbol+"@trade"]
}

func testConfig(endpoint string) ClientConfig {
	cfg := DefaultClientConfig(endpoint)
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.MaxReconnectDelay = 100 * time.Millisecond
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	return cfg
}

func tradeJSON(symbol string, price float64, ts int64) string {
	return fmt.Sprintf(`{"e":"trade","s":"%s","p":"%v","T":%d}`, strings.ToUpper(symbol), price, ts)
}

// waitEvent reads events until one matches, or fails the test.
func waitEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestClient_SubscribeDeliversTicks(t *testing.T) {
	server := newTradeServer(t)
	client := NewClient(testConfig(server.url()))
	defer client.Close()

	if err := client.Subscribe(context.Background(), "btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitEvent(t, client.Events(), func(ev Event) bool {
		c, ok := ev.(ConnectedEvent)
		return ok && c.Symbol == "btcusdt"
	})

	if err := server.send("btcusdt", tradeJSON("btcusdt", 43000.5, 1700000000000)); err != nil {
		t.Fatalf("send: %v", err)
	}

	ev := waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(TickEvent)
		return ok
	})
	tick := ev.(TickEvent).Tick
	if tick.Symbol != "btcusdt" || tick.Price != 43000.5 || tick.TimestampMs != 1700000000000 {
		t.Errorf("unexpected tick: %+v", tick)
	}

	if !client.Connected("btcusdt") {
		t.Error("Connected(btcusdt) = false after ConnectedEvent")
	}
}

func TestClient_MalformedMessagesDropped(t *testing.T) {
	server := newTradeServer(t)
	client := NewClient(testConfig(server.url()))
	defer client.Close()

	if err := client.Subscribe(context.Background(), "btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(ConnectedEvent)
		return ok
	})

	// Garbage, bad price, bad timestamp, then one good tick.
	for _, msg := range []string{
		`{not json`,
		`{"e":"trade","s":"BTCUSDT","p":"abc","T":1700000000000}`,
		`{"e":"trade","s":"BTCUSDT","p":"1.0","T":0}`,
		tradeJSON("btcusdt", 42.0, 1700000000001),
	} {
		if err := server.send("btcusdt", msg); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	ev := waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(TickEvent)
		return ok
	})
	if got := ev.(TickEvent).Tick.Price; got != 42.0 {
		t.Errorf("first delivered tick price = %v, want the well-formed one", got)
	}

	stats := client.Stats()
	if stats.MalformedDropped < 3 {
		t.Errorf("MalformedDropped = %d, want >= 3", stats.MalformedDropped)
	}
	if stats.TicksDelivered != 1 {
		t.Errorf("TicksDelivered = %d, want 1", stats.TicksDelivered)
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	server := newTradeServer(t)
	client := NewClient(testConfig(server.url()))
	defer client.Close()

	if err := client.Subscribe(context.Background(), "ethusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(ConnectedEvent)
		return ok
	})

	server.dropAll("ethusdt")

	waitEvent(t, client.Events(), func(ev Event) bool {
		d, ok := ev.(DisconnectedEvent)
		return ok && d.Symbol == "ethusdt"
	})
	waitEvent(t, client.Events(), func(ev Event) bool {
		c, ok := ev.(ConnectedEvent)
		return ok && c.Symbol == "ethusdt"
	})

	// Ticks flow again on the new connection.
	if err := server.send("ethusdt", tradeJSON("ethusdt", 2500.25, 1700000000002)); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	waitEvent(t, client.Events(), func(ev Event) bool {
		te, ok := ev.(TickEvent)
		return ok && te.Tick.Price == 2500.25
	})

	if server.dialCount("ethusdt") < 2 {
		t.Errorf("dialCount = %d, want >= 2", server.dialCount("ethusdt"))
	}
	if client.Stats().Reconnects == 0 {
		t.Error("Reconnects counter not incremented")
	}
}

func TestClient_ReferenceCounting(t *testing.T) {
	server := newTradeServer(t)
	client := NewClient(testConfig(server.url()))
	defer client.Close()

	ctx := context.Background()

	// Two subscribers, one wire.
	if err := client.Subscribe(ctx, "btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Subscribe(ctx, "btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(ConnectedEvent)
		return ok
	})
	if got := server.dialCount("btcusdt"); got != 1 {
		t.Errorf("dialCount = %d after double subscribe, want 1", got)
	}

	// First unsubscribe keeps the connection.
	client.Unsubscribe("btcusdt")
	time.Sleep(50 * time.Millisecond)
	if !client.Connected("btcusdt") {
		t.Error("connection dropped while a reference remained")
	}

	// Last unsubscribe tears it down.
	client.Unsubscribe("btcusdt")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && client.Connected("btcusdt") {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Connected("btcusdt") {
		t.Error("connection survived last unsubscribe")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	server := newTradeServer(t)
	client := NewClient(testConfig(server.url()))

	if err := client.Subscribe(context.Background(), "btcusdt"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	waitEvent(t, client.Events(), func(ev Event) bool {
		_, ok := ev.(ConnectedEvent)
		return ok
	})

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := client.Subscribe(context.Background(), "ethusdt"); err == nil {
		t.Error("Subscribe after Close should fail")
	}

	// Stream drains and closes.
	for range client.Events() {
	}
}
