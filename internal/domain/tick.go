package domain

// Tick represents one price observation for a symbol at a point in time.
// Produced by the feed client; immutable once emitted. Ordering is not
// guaranteed across symbols, and per-symbol monotonicity is assumed but
// not enforced by producers.
type Tick struct {
	Symbol      string  // canonical feed symbol, e.g. "btcusdt"
	Price       float64 // last trade price
	TimestampMs int64   // Unix timestamp in milliseconds
}

// InitialPriceRecord captures the reference price for a symbol in a match.
// Created exactly once per (match, symbol) from the first tick observed
// after the match enters IN_PROGRESS, and never changed afterward.
type InitialPriceRecord struct {
	Symbol       string
	Price        float64
	CapturedAtMs int64 // timestamp of the tick that set the record (ms)
}
