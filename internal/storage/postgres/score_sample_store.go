package postgres

import (
	"context"
	"fmt"
	"time"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// ScoreSampleStore implements storage.ScoreSampleStore using PostgreSQL.
type ScoreSampleStore struct {
	pool *Pool
}

// NewScoreSampleStore creates a new ScoreSampleStore.
func NewScoreSampleStore(pool *Pool) *ScoreSampleStore {
	return &ScoreSampleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScoreSampleStore = (*ScoreSampleStore)(nil)

// InsertBulk appends samples atomically. Fails entire batch on any duplicate.
func (s *ScoreSampleStore) InsertBulk(ctx context.Context, samples []*domain.TeamScoreSample) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("insert_score_samples", started, err) }()

	if len(samples) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert samples: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO score_samples (match_id, team_id, timestamp, percent_change)
		VALUES ($1, $2, $3, $4)
	`

	for _, sample := range samples {
		if sample == nil || sample.MatchID == "" || sample.TeamID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			sample.MatchID,
			sample.TeamID,
			sample.TimestampMs,
			sample.PercentChange,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert score sample: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByMatchTeam retrieves a team's samples ordered by timestamp ASC.
func (s *ScoreSampleStore) GetByMatchTeam(ctx context.Context, matchID, teamID string) (_ []*domain.TeamScoreSample, err error) {
	started := time.Now()
	defer func() { s.pool.observe("get_score_samples", started, err) }()

	query := `
		SELECT match_id, team_id, timestamp, percent_change
		FROM score_samples
		WHERE match_id = $1 AND team_id = $2
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, matchID, teamID)
	if err != nil {
		return nil, fmt.Errorf("get score samples: %w", err)
	}
	defer rows.Close()

	var result []*domain.TeamScoreSample
	for rows.Next() {
		var sample domain.TeamScoreSample
		if err := rows.Scan(&sample.MatchID, &sample.TeamID, &sample.TimestampMs, &sample.PercentChange); err != nil {
			return nil, fmt.Errorf("scan score sample: %w", err)
		}
		result = append(result, &sample)
	}
	return result, rows.Err()
}

// DeleteByMatch discards all samples for a match.
func (s *ScoreSampleStore) DeleteByMatch(ctx context.Context, matchID string) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("delete_score_samples", started, err) }()

	_, err = s.pool.Exec(ctx, `DELETE FROM score_samples WHERE match_id = $1`, matchID)
	if err != nil {
		return fmt.Errorf("delete score samples: %w", err)
	}
	return nil
}
