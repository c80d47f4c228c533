// Package scoring turns feed ticks into per-team percentage-change
// scores: the tracker captures initial reference prices and computes
// per-symbol changes, the aggregator folds them into team scores and a
// sampled time series.
package scoring

import (
	"sync"

	"token-battles/internal/domain"
)

// Tracker captures initial prices and computes percentage changes for
// active matches. All state is keyed by match id: concurrent matches
// sharing a symbol subscription never see each other's records.
type Tracker struct {
	mu      sync.Mutex
	matches map[string]*trackerState
}

type trackerState struct {
	symbols  map[string]struct{}
	initials map[string]domain.InitialPriceRecord
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{matches: make(map[string]*trackerState)}
}

// Begin registers a match's symbols and clears any prior initial price
// records for that match id (reset on IN_PROGRESS entry).
func (t *Tracker) Begin(matchID string, symbols []string) {
	state := &trackerState{
		symbols:  make(map[string]struct{}, len(symbols)),
		initials: make(map[string]domain.InitialPriceRecord),
	}
	for _, s := range symbols {
		state.symbols[s] = struct{}{}
	}

	t.mu.Lock()
	t.matches[matchID] = state
	t.mu.Unlock()
}

// Observe processes one tick for a match. The first tick for a symbol
// after Begin locks in the initial price record, exactly once, no
// matter how many further ticks arrive or in what timestamp order.
// Subsequent ticks yield the percentage change relative to that record.
// The capture tick itself yields a 0% change: a symbol with an initial
// price participates in its team's mean from that moment on, even if no
// further tick ever arrives. ok is false only when the tick is not
// relevant to the match.
func (t *Tracker) Observe(matchID string, tick domain.Tick) (pct float64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.matches[matchID]
	if !exists {
		return 0, false
	}
	if _, subscribed := state.symbols[tick.Symbol]; !subscribed {
		return 0, false
	}

	initial, has := state.initials[tick.Symbol]
	if !has {
		state.initials[tick.Symbol] = domain.InitialPriceRecord{
			Symbol:       tick.Symbol,
			Price:        tick.Price,
			CapturedAtMs: tick.TimestampMs,
		}
		return 0, true
	}

	return (tick.Price - initial.Price) / initial.Price * 100, true
}

// Initial returns the captured record for a symbol, if any.
func (t *Tracker) Initial(matchID, symbol string) (domain.InitialPriceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.matches[matchID]
	if !exists {
		return domain.InitialPriceRecord{}, false
	}
	rec, has := state.initials[symbol]
	return rec, has
}

// CapturedCount reports how many of the match's symbols have an initial
// price record.
func (t *Tracker) CapturedCount(matchID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.matches[matchID]
	if !exists {
		return 0
	}
	return len(state.initials)
}

// Discard drops all state for a match (completion or cancellation).
func (t *Tracker) Discard(matchID string) {
	t.mu.Lock()
	delete(t.matches, matchID)
	t.mu.Unlock()
}
