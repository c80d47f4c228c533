// Package feed maintains live price subscriptions against a streaming
// market-data source and normalizes its messages into ticks.
//
// One WebSocket connection is held per subscribed symbol. Interest is
// reference-counted: subscribing a symbol twice wires it once, and the
// connection is torn down when the last subscriber leaves. Network
// failures never escape the package as errors; they surface as
// Disconnected events plus automatic reconnection with backoff.
package feed

import (
	"context"

	"token-battles/internal/domain"
)

// Event is the closed set of feed notifications. The concrete types are
// TickEvent, ConnectedEvent, and DisconnectedEvent.
type Event interface {
	isEvent()
}

// TickEvent carries one normalized price observation.
type TickEvent struct {
	Tick domain.Tick
}

// ConnectedEvent signals that a symbol's connection is established
// (initially or after a reconnect).
type ConnectedEvent struct {
	Symbol string
}

// DisconnectedEvent signals that a symbol's connection dropped. Cause is
// informational; the client reconnects on its own. Ticks missed during
// the outage are not backfilled: consumers must treat the gap as "no
// update", never as a zero change.
type DisconnectedEvent struct {
	Symbol string
	Cause  error
}

func (TickEvent) isEvent()         {}
func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}

// Source is the subscription interface consumed by the engine.
type Source interface {
	// Subscribe registers interest in a symbol. Idempotent per caller
	// reference: each Subscribe must be paired with one Unsubscribe.
	Subscribe(ctx context.Context, symbol string) error

	// Unsubscribe drops one reference to a symbol. The underlying
	// connection closes when the last reference is released.
	Unsubscribe(symbol string)

	// Events returns the merged event stream for all subscriptions.
	Events() <-chan Event

	// Connected reports whether the symbol's connection is currently up.
	Connected(symbol string) bool

	// Close tears down all connections and closes the event stream.
	Close() error
}
