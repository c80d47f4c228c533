package domain

import "fmt"

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match status constants
const (
	MatchPending    MatchStatus = "PENDING"
	MatchInProgress MatchStatus = "IN_PROGRESS"
	MatchCompleted  MatchStatus = "COMPLETED"
	MatchCancelled  MatchStatus = "CANCELLED"
)

// Match represents one head-to-head token battle.
// Corresponds to matches table in PostgreSQL.
type Match struct {
	ID               string      // PRIMARY KEY, uuid
	Status           MatchStatus // PENDING | IN_PROGRESS | COMPLETED | CANCELLED
	TeamOne          *Team       // always present
	TeamTwo          *Team       // nil until the second player joins
	DurationSeconds  int64       // configured match window length
	StartTimestampMs int64       // set on IN_PROGRESS entry, 0 before
	EndTimestampMs   int64       // start + duration*1000, 0 before start
	PotAmount        float64     // total wagered amount for the match
	CreatedAtMs      int64       // record creation timestamp (ms)
}

// MatchResult identifies the outcome of a completed match.
type MatchResult string

// Match result constants
const (
	ResultTeamOne MatchResult = "TEAM_ONE"
	ResultTeamTwo MatchResult = "TEAM_TWO"
	ResultDraw    MatchResult = "DRAW"
)

// validTransitions enumerates the legal status edges. Anything else,
// including re-entering IN_PROGRESS from COMPLETED, is a violation.
var validTransitions = map[MatchStatus][]MatchStatus{
	MatchPending:    {MatchInProgress, MatchCancelled},
	MatchInProgress: {MatchCompleted, MatchCancelled},
}

// CanTransition reports whether moving from -> to is a legal edge.
func CanTransition(from, to MatchStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition wraps an illegal status transition attempt.
type ErrInvalidTransition struct {
	From MatchStatus
	To   MatchStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid match transition %s -> %s", e.From, e.To)
}

// Symbols returns the distinct canonical symbols across both teams.
// Order is not specified. Safe to call while TeamTwo is nil.
func (m *Match) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, team := range []*Team{m.TeamOne, m.TeamTwo} {
		if team == nil {
			continue
		}
		for _, s := range team.Symbols {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
