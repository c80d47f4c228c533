package storage

import (
	"context"

	"token-battles/internal/domain"
)

// MatchStore provides access to matches storage.
type MatchStore interface {
	// Insert adds a new match. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, m *domain.Match) error

	// GetByID retrieves a match by id. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, matchID string) (*domain.Match, error)

	// UpdateStatus transitions a match to a new status, recording start
	// and end timestamps when provided (ms, 0 to leave unset). Returns
	// ErrNotFound for unknown matches; illegal transitions are rejected
	// with domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, matchID string, status domain.MatchStatus, startMs, endMs int64) error

	// BindTeamTwo attaches the second team to a pending match.
	BindTeamTwo(ctx context.Context, matchID string, team *domain.Team) error

	// SetResult records the final scores, result, and settlement shares
	// of a completed match.
	SetResult(ctx context.Context, matchID string, res *MatchResultRecord) error

	// GetByStatus retrieves all matches currently in the given status.
	GetByStatus(ctx context.Context, status domain.MatchStatus) ([]*domain.Match, error)
}

// MatchResultRecord is the persisted outcome of a completed match.
type MatchResultRecord struct {
	MatchID       string
	TeamOneScore  float64
	TeamTwoScore  float64
	Result        domain.MatchResult
	WinnerShare   float64
	LoserShare    float64
	CompletedAtMs int64
}

// ScoreSampleStore provides access to the score_samples series.
type ScoreSampleStore interface {
	// InsertBulk appends samples. The series is append-only; duplicate
	// (match, team, timestamp) keys fail the whole batch.
	InsertBulk(ctx context.Context, samples []*domain.TeamScoreSample) error

	// GetByMatchTeam retrieves a team's samples ordered by timestamp ASC.
	GetByMatchTeam(ctx context.Context, matchID, teamID string) ([]*domain.TeamScoreSample, error)

	// DeleteByMatch discards all samples for a match (cancellation path).
	DeleteByMatch(ctx context.Context, matchID string) error
}

// TickHistoryStore records the advisory per-match feed tick audit trail.
type TickHistoryStore interface {
	// InsertBulk appends tick records. Best-effort audit data; callers
	// treat failures as non-fatal.
	InsertBulk(ctx context.Context, records []*domain.MatchTickRecord) error

	// GetByMatch retrieves all tick records for a match ordered by
	// timestamp ASC.
	GetByMatch(ctx context.Context, matchID string) ([]*domain.MatchTickRecord, error)
}
