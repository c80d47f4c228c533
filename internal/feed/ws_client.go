package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"token-battles/internal/domain"
)

// ClientConfig configures WebSocket client behavior.
type ClientConfig struct {
	// Endpoint is the stream base URL, e.g. wss://stream.binance.com:9443.
	// A symbol subscription connects to <Endpoint>/ws/<symbol>@trade.
	Endpoint string
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is the keep-alive interval while connected.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// EventBuffer is the capacity of the merged event channel.
	EventBuffer int
}

// DefaultClientConfig returns default WebSocket configuration.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:          endpoint,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		EventBuffer:       10000,
	}
}

// ClientStats is a point-in-time snapshot of client state.
type ClientStats struct {
	SubscribedSymbols int
	ConnectedSymbols  int
	TicksDelivered    uint64
	MalformedDropped  uint64
	Reconnects        uint64
}

// Client implements Source over per-symbol WebSocket connections.
type Client struct {
	cfg ClientConfig

	// mu is the single mutation path for the symbol table; subscribe
	// and unsubscribe reference counting is not race-safe without it.
	mu    sync.Mutex
	conns map[string]*symbolConn

	events chan Event
	closed atomic.Bool
	wg     sync.WaitGroup

	ticksDelivered   atomic.Uint64
	malformedDropped atomic.Uint64
	reconnects       atomic.Uint64
}

// symbolConn tracks one symbol's connection lifecycle.
type symbolConn struct {
	symbol    string
	refs      int
	cancel    context.CancelFunc
	connected atomic.Bool
}

// Compile-time interface check.
var _ Source = (*Client)(nil)

// NewClient creates a feed client. No connections are opened until the
// first Subscribe.
func NewClient(cfg ClientConfig) *Client {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultClientConfig("").EventBuffer
	}
	return &Client{
		cfg:    cfg,
		conns:  make(map[string]*symbolConn),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Subscribe registers interest in a symbol, wiring the connection on the
// first reference.
func (c *Client) Subscribe(ctx context.Context, symbol string) error {
	if c.closed.Load() {
		return fmt.Errorf("feed client closed")
	}
	symbol = strings.ToLower(symbol)
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if sc, ok := c.conns[symbol]; ok {
		sc.refs++
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sc := &symbolConn{symbol: symbol, refs: 1, cancel: cancel}
	c.conns[symbol] = sc

	c.wg.Add(1)
	go c.run(runCtx, sc)
	return nil
}

// Unsubscribe drops one reference; the last reference closes the
// connection.
func (c *Client) Unsubscribe(symbol string) {
	symbol = strings.ToLower(symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.conns[symbol]
	if !ok {
		return
	}
	sc.refs--
	if sc.refs > 0 {
		return
	}
	delete(c.conns, symbol)
	sc.cancel()
}

// Events returns the merged event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether the symbol's connection is currently up.
func (c *Client) Connected(symbol string) bool {
	c.mu.Lock()
	sc, ok := c.conns[strings.ToLower(symbol)]
	c.mu.Unlock()
	return ok && sc.connected.Load()
}

// Stats returns a snapshot of client counters.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	subscribed := len(c.conns)
	connected := 0
	for _, sc := range c.conns {
		if sc.connected.Load() {
			connected++
		}
	}
	c.mu.Unlock()

	return ClientStats{
		SubscribedSymbols: subscribed,
		ConnectedSymbols:  connected,
		TicksDelivered:    c.ticksDelivered.Load(),
		MalformedDropped:  c.malformedDropped.Load(),
		Reconnects:        c.reconnects.Load(),
	}
}

// Close tears down all connections and closes the event stream.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.mu.Lock()
	for symbol, sc := range c.conns {
		sc.cancel()
		delete(c.conns, symbol)
	}
	c.mu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// streamURL builds the per-symbol stream URL.
func (c *Client) streamURL(symbol string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/ws/" + symbol + "@trade"
}

// run owns one symbol's connection: dial, read, reconnect with
// exponential backoff, until the subscription is cancelled.
func (c *Client) run(ctx context.Context, sc *symbolConn) {
	defer c.wg.Done()

	delay := c.cfg.ReconnectDelay
	firstAttempt := true

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, sc.symbol)
		if err != nil {
			if !firstAttempt {
				c.reconnects.Add(1)
			}
			firstAttempt = false
			log.Printf("[feed] %s: dial failed: %v (retry in %v)", sc.symbol, err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxReconnectDelay {
				delay = c.cfg.MaxReconnectDelay
			}
			continue
		}

		if !firstAttempt {
			c.reconnects.Add(1)
		}
		firstAttempt = false
		delay = c.cfg.ReconnectDelay

		sc.connected.Store(true)
		c.emit(ctx, ConnectedEvent{Symbol: sc.symbol})

		readErr := c.readLoop(ctx, sc, conn)
		conn.Close()
		sc.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		c.emit(ctx, DisconnectedEvent{Symbol: sc.symbol, Cause: readErr})

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// dial opens the WebSocket connection for a symbol's trade stream.
func (c *Client) dial(ctx context.Context, symbol string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, c.streamURL(symbol), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", symbol, err)
	}
	return conn, nil
}

// readLoop reads messages until the connection fails or the
// subscription is cancelled. Returns the terminal read error.
func (c *Client) readLoop(ctx context.Context, sc *symbolConn, conn *websocket.Conn) error {
	// Keep-alive pings ride on a separate goroutine; writeMu serializes
	// them against the close handshake.
	var writeMu sync.Mutex
	pingDone := make(chan struct{})
	defer close(pingDone)

	// Unblock the reader promptly when the subscription is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-pingDone:
		}
	}()

	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, the reader will notice.
				}
				writeMu.Unlock()
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok := c.parseTrade(sc.symbol, message)
		if !ok {
			continue
		}

		c.ticksDelivered.Add(1)
		c.emit(ctx, TickEvent{Tick: tick})
	}
}

// emit delivers an event, blocking rather than dropping; the buffer
// absorbs bursts.
func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// tradeMessage is the trade-stream payload shape.
type tradeMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// parseTrade normalizes one raw message into a tick. Malformed messages
// are dropped and logged; they must never poison the read loop.
func (c *Client) parseTrade(symbol string, message []byte) (domain.Tick, bool) {
	var msg tradeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.malformedDropped.Add(1)
		log.Printf("[feed] %s: dropping unparseable message: %v", symbol, err)
		return domain.Tick{}, false
	}

	if msg.EventType != "trade" {
		// Other stream events (subscription acks etc.) are not ticks.
		return domain.Tick{}, false
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		c.malformedDropped.Add(1)
		log.Printf("[feed] %s: dropping tick with bad price %q", symbol, msg.Price)
		return domain.Tick{}, false
	}
	if msg.TradeTime <= 0 {
		c.malformedDropped.Add(1)
		log.Printf("[feed] %s: dropping tick with bad timestamp %d", symbol, msg.TradeTime)
		return domain.Tick{}, false
	}

	sym := strings.ToLower(msg.Symbol)
	if sym == "" {
		sym = symbol
	}

	return domain.Tick{
		Symbol:      sym,
		Price:       price,
		TimestampMs: msg.TradeTime,
	}, true
}
