package scoring

import (
	"sync"

	"token-battles/internal/domain"
)

// Aggregator maintains the latest per-symbol percentage change for each
// team and derives team scores plus a sampled time series.
//
// A team's score is the arithmetic mean over the symbols that have
// produced at least one change (i.e. have an initial price record and a
// subsequent tick); symbols without data are excluded from the
// denominator, never zero-padded into the mean. A team where no symbol
// has data scores 0 without dividing by zero.
type Aggregator struct {
	mu      sync.Mutex
	matches map[string]*aggregatorState
}

type aggregatorState struct {
	teams []*teamState
}

type teamState struct {
	teamID  string
	symbols map[string]struct{}
	latest  map[string]float64 // symbol -> latest percent change
	series  []domain.TeamScoreSample
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{matches: make(map[string]*aggregatorState)}
}

// Begin registers a match's teams, clearing any prior series for the id.
func (a *Aggregator) Begin(matchID string, teams []*domain.Team) {
	state := &aggregatorState{}
	for _, team := range teams {
		if team == nil {
			continue
		}
		ts := &teamState{
			teamID:  team.ID,
			symbols: make(map[string]struct{}, len(team.Symbols)),
			latest:  make(map[string]float64),
		}
		for _, s := range team.Symbols {
			ts.symbols[s] = struct{}{}
		}
		state.teams = append(state.teams, ts)
	}

	a.mu.Lock()
	a.matches[matchID] = state
	a.mu.Unlock()
}

// Update records a symbol's latest percentage change for every team in
// the match holding that symbol.
func (a *Aggregator) Update(matchID, symbol string, pct float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.matches[matchID]
	if !exists {
		return
	}
	for _, ts := range state.teams {
		if _, ok := ts.symbols[symbol]; ok {
			ts.latest[symbol] = pct
		}
	}
}

// TeamScore returns the team's current mean percentage change. ok is
// false when no symbol has produced data yet; the score is then 0.
func (a *Aggregator) TeamScore(matchID, teamID string) (score float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.team(matchID, teamID)
	if ts == nil {
		return 0, false
	}
	return meanScore(ts)
}

// Sample appends one TeamScoreSample per team at the given instant and
// returns the appended samples. Called on the engine's sampling cadence
// while the match is IN_PROGRESS; the engine stops calling on
// completion.
func (a *Aggregator) Sample(matchID string, timestampMs int64) []*domain.TeamScoreSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.matches[matchID]
	if !exists {
		return nil
	}

	samples := make([]*domain.TeamScoreSample, 0, len(state.teams))
	for _, ts := range state.teams {
		score, _ := meanScore(ts)
		sample := domain.TeamScoreSample{
			MatchID:       matchID,
			TeamID:        ts.teamID,
			TimestampMs:   timestampMs,
			PercentChange: score,
		}
		ts.series = append(ts.series, sample)
		samples = append(samples, &sample)
	}
	return samples
}

// Series returns a copy of a team's sampled series in append order.
func (a *Aggregator) Series(matchID, teamID string) []domain.TeamScoreSample {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.team(matchID, teamID)
	if ts == nil {
		return nil
	}
	out := make([]domain.TeamScoreSample, len(ts.series))
	copy(out, ts.series)
	return out
}

// Discard drops all state for a match.
func (a *Aggregator) Discard(matchID string) {
	a.mu.Lock()
	delete(a.matches, matchID)
	a.mu.Unlock()
}

// team looks up a team's state. Caller holds a.mu.
func (a *Aggregator) team(matchID, teamID string) *teamState {
	state, exists := a.matches[matchID]
	if !exists {
		return nil
	}
	for _, ts := range state.teams {
		if ts.teamID == teamID {
			return ts
		}
	}
	return nil
}

// meanScore computes the mean over symbols with data. Caller holds a.mu.
func meanScore(ts *teamState) (float64, bool) {
	if len(ts.latest) == 0 {
		return 0, false
	}
	var sum float64
	for _, pct := range ts.latest {
		sum += pct
	}
	return sum / float64(len(ts.latest)), true
}
