// Package settlement computes the monetary split of a match pot from the
// two teams' final percentage changes. The split is continuous rather
// than winner-takes-all: shares are proportional to smoothed gains, with
// a guaranteed minimum floor for the losing side.
package settlement

import (
	"errors"
	"fmt"
)

// ErrDraw is returned when both teams finish with identical scores.
// Callers decide the draw policy; SplitDraw provides the equal split.
var ErrDraw = errors.New("no single winner: final scores are equal")

// Result is the monetary outcome of settling a match pot.
// Invariants: WinnerShare + LoserShare == pot exactly, and
// LoserShare >= FloorFraction * pot.
type Result struct {
	WinnerShare float64
	LoserShare  float64
}

// Breakpoint maps a maximum duration to a smoothing constant.
type Breakpoint struct {
	MaxDurationSeconds int64   `yaml:"max_duration_seconds"`
	K                  float64 `yaml:"k"`
}

// Policy holds the tunable settlement parameters. The breakpoint table
// and floor are configuration, not fixed facts about real durations.
type Policy struct {
	// Breakpoints must be sorted ascending by MaxDurationSeconds.
	// The first entry whose bound is >= the match duration wins.
	Breakpoints []Breakpoint `yaml:"breakpoints"`
	// DefaultK applies when the duration exceeds every breakpoint.
	DefaultK float64 `yaml:"default_k"`
	// FloorFraction is the minimum fraction of the pot paid to the loser.
	FloorFraction float64 `yaml:"floor_fraction"`
}

// DefaultPolicy returns the standard settlement parameters.
func DefaultPolicy() Policy {
	return Policy{
		Breakpoints: []Breakpoint{
			{MaxDurationSeconds: 1, K: 0.2},
			{MaxDurationSeconds: 5, K: 0.15},
			{MaxDurationSeconds: 60, K: 0.1},
		},
		DefaultK:      0.05,
		FloorFraction: 0.05,
	}
}

// Validate checks policy consistency.
func (p Policy) Validate() error {
	if p.FloorFraction < 0 || p.FloorFraction >= 0.5 {
		return fmt.Errorf("floor_fraction %v out of range [0, 0.5)", p.FloorFraction)
	}
	var prev int64
	for i, bp := range p.Breakpoints {
		if bp.MaxDurationSeconds <= prev && i > 0 {
			return fmt.Errorf("breakpoints not ascending at index %d", i)
		}
		prev = bp.MaxDurationSeconds
	}
	return nil
}

// KForDuration selects the smoothing constant for a match duration.
func (p Policy) KForDuration(durationSeconds int64) float64 {
	for _, bp := range p.Breakpoints {
		if durationSeconds <= bp.MaxDurationSeconds {
			return bp.K
		}
	}
	return p.DefaultK
}

// Settle splits the pot between winner and loser.
//
// winnerGain and loserGain are the max and min of the two final percent
// changes; each is smoothed by k and the pot is divided proportionally.
// The loser's share is clamped up to FloorFraction of the pot, and the
// winner always receives exactly the remainder, so the sum invariant
// holds to the last bit.
//
// Equal inputs return ErrDraw: there is no single winner and the caller
// owns the draw policy (see SplitDraw).
func (p Policy) Settle(teamOnePct, teamTwoPct, potAmount float64, durationSeconds int64) (Result, error) {
	if teamOnePct == teamTwoPct {
		return Result{}, ErrDraw
	}

	k := p.KForDuration(durationSeconds)
	winnerGain := teamOnePct
	loserGain := teamTwoPct
	if teamTwoPct > teamOnePct {
		winnerGain, loserGain = teamTwoPct, teamOnePct
	}

	adjustedWinner := winnerGain + k
	adjustedLoser := loserGain + k

	var winnerShare float64
	if denom := adjustedWinner + adjustedLoser; denom > 0 {
		winnerShare = potAmount * adjustedWinner / denom
	} else {
		// Deeply negative scores push the proportional form outside
		// [0, pot]; award the winner everything above the floor.
		winnerShare = potAmount
	}

	// Proportional share exceeds the pot when the loser's adjusted
	// gain is negative; clamp before applying the floor.
	if winnerShare > potAmount {
		winnerShare = potAmount
	}

	loserShare := potAmount - winnerShare
	if floor := p.FloorFraction * potAmount; loserShare < floor {
		loserShare = floor
	}

	return Result{
		WinnerShare: potAmount - loserShare,
		LoserShare:  loserShare,
	}, nil
}

// SplitDraw divides the pot equally between both teams.
func SplitDraw(potAmount float64) Result {
	half := potAmount / 2
	return Result{WinnerShare: half, LoserShare: potAmount - half}
}

// Settle applies the default policy. Convenience for callers that do not
// carry a configured Policy.
func Settle(teamOnePct, teamTwoPct, potAmount float64, durationSeconds int64) (Result, error) {
	return DefaultPolicy().Settle(teamOnePct, teamTwoPct, potAmount, durationSeconds)
}
