// Package match drives the timing of an in-progress match: a periodic
// check against the configured end timestamp, with a structural
// guarantee that completion fires exactly once. Status-transition
// legality itself lives in the domain package; the engine owns applying
// transitions to the store.
package match

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultCheckInterval is how often an active match compares the clock
// against its end timestamp.
const DefaultCheckInterval = 500 * time.Millisecond

// Clock watches one match's window.
type Clock struct {
	matchID       string
	endMs         int64
	checkInterval time.Duration
	now           func() int64 // ms epoch, injectable for tests

	fired atomic.Bool
}

// NewClock creates a clock for a match that entered IN_PROGRESS with
// the given end timestamp. A nil now defaults to wall time.
func NewClock(matchID string, endMs int64, checkInterval time.Duration, now func() int64) *Clock {
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Clock{
		matchID:       matchID,
		endMs:         endMs,
		checkInterval: checkInterval,
		now:           now,
	}
}

// MatchID returns the watched match id.
func (c *Clock) MatchID() string { return c.matchID }

// Expired reports whether the match window has elapsed.
func (c *Clock) Expired() bool {
	return c.now() >= c.endMs
}

// RemainingMs returns milliseconds until the window elapses (>= 0).
func (c *Clock) RemainingMs() int64 {
	if rem := c.endMs - c.now(); rem > 0 {
		return rem
	}
	return 0
}

// Fire claims the completion exactly once. Racing periodic checks all
// observe the same expiry; only the first claim returns true.
func (c *Clock) Fire() bool {
	return !c.fired.Swap(true)
}

// Run blocks until the window elapses or ctx is cancelled. onExpire is
// invoked at most once, and only by the Run call that won the Fire
// claim.
func (c *Clock) Run(ctx context.Context, onExpire func()) {
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		if c.Expired() {
			if c.Fire() {
				onExpire()
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
