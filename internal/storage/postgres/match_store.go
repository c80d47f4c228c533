package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// MatchStore implements storage.MatchStore using PostgreSQL.
// Teams are stored in their own table and joined on read.
type MatchStore struct {
	pool *Pool
}

// NewMatchStore creates a new MatchStore.
func NewMatchStore(pool *Pool) *MatchStore {
	return &MatchStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MatchStore = (*MatchStore)(nil)

const matchSelectColumns = `
	m.match_id, m.status, m.duration_seconds, m.start_timestamp, m.end_timestamp,
	m.pot_amount, m.created_at,
	t1.team_id, t1.player_id, t1.tokens, t1.symbols,
	t2.team_id, t2.player_id, t2.tokens, t2.symbols
`

// Insert adds a new match with its first team. Returns ErrDuplicateKey
// if the match id exists.
func (s *MatchStore) Insert(ctx context.Context, m *domain.Match) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("insert_match", started, err) }()

	if m == nil || m.ID == "" || m.TeamOne == nil {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert match: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTeam(ctx, tx, m.TeamOne); err != nil {
		return err
	}

	var teamTwoID *string
	if m.TeamTwo != nil {
		if err := insertTeam(ctx, tx, m.TeamTwo); err != nil {
			return err
		}
		teamTwoID = &m.TeamTwo.ID
	}

	query := `
		INSERT INTO matches (
			match_id, status, team_one_id, team_two_id, duration_seconds,
			start_timestamp, end_timestamp, pot_amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, query,
		m.ID,
		string(m.Status),
		m.TeamOne.ID,
		teamTwoID,
		m.DurationSeconds,
		m.StartTimestampMs,
		m.EndTimestampMs,
		m.PotAmount,
		m.CreatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert match: %w", err)
	}

	return tx.Commit(ctx)
}

// insertTeam adds a team row inside the surrounding transaction.
func insertTeam(ctx context.Context, tx pgx.Tx, team *domain.Team) error {
	query := `
		INSERT INTO teams (team_id, player_id, tokens, symbols)
		VALUES ($1, $2, $3, $4)
	`
	_, err := tx.Exec(ctx, query, team.ID, team.PlayerID, team.Tokens, team.Symbols)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

// GetByID retrieves a match by id. Returns ErrNotFound if not exists.
func (s *MatchStore) GetByID(ctx context.Context, matchID string) (_ *domain.Match, err error) {
	started := time.Now()
	defer func() { s.pool.observe("get_match", started, err) }()

	query := `
		SELECT ` + matchSelectColumns + `
		FROM matches m
		JOIN teams t1 ON t1.team_id = m.team_one_id
		LEFT JOIN teams t2 ON t2.team_id = m.team_two_id
		WHERE m.match_id = $1
	`

	row := s.pool.QueryRow(ctx, query, matchID)
	m, err := scanMatch(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get match by id: %w", err)
	}
	return m, nil
}

// UpdateStatus transitions a match, validating the edge under a row lock
// so racing updates cannot produce an illegal transition.
func (s *MatchStore) UpdateStatus(ctx context.Context, matchID string, status domain.MatchStatus, startMs, endMs int64) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("update_match_status", started, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update status: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM matches WHERE match_id = $1 FOR UPDATE`, matchID,
	).Scan(&current)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock match row: %w", err)
	}

	if !domain.CanTransition(domain.MatchStatus(current), status) {
		return &domain.ErrInvalidTransition{From: domain.MatchStatus(current), To: status}
	}

	query := `
		UPDATE matches
		SET status = $2,
		    start_timestamp = CASE WHEN $3 <> 0 THEN $3 ELSE start_timestamp END,
		    end_timestamp   = CASE WHEN $4 <> 0 THEN $4 ELSE end_timestamp END
		WHERE match_id = $1
	`
	if _, err := tx.Exec(ctx, query, matchID, string(status), startMs, endMs); err != nil {
		return fmt.Errorf("update match status: %w", err)
	}

	return tx.Commit(ctx)
}

// BindTeamTwo attaches the second team to a pending match.
func (s *MatchStore) BindTeamTwo(ctx context.Context, matchID string, team *domain.Team) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("bind_team_two", started, err) }()

	if team == nil || team.ID == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin bind team: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertTeam(ctx, tx, team); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE matches
		SET team_two_id = $2
		WHERE match_id = $1 AND status = $3 AND team_two_id IS NULL
	`, matchID, team.ID, string(domain.MatchPending))
	if err != nil {
		return fmt.Errorf("bind team two: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the match is unknown, already full, or past PENDING.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM matches WHERE match_id = $1)`, matchID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check match exists: %w", err)
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrDuplicateKey
	}

	return tx.Commit(ctx)
}

// SetResult records the final outcome of a completed match.
func (s *MatchStore) SetResult(ctx context.Context, matchID string, res *storage.MatchResultRecord) (err error) {
	started := time.Now()
	defer func() { s.pool.observe("set_match_result", started, err) }()

	if res == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO match_results (
			match_id, team_one_score, team_two_score, result,
			winner_share, loser_share, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.pool.Exec(ctx, query,
		matchID,
		res.TeamOneScore,
		res.TeamTwoScore,
		string(res.Result),
		res.WinnerShare,
		res.LoserShare,
		res.CompletedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert match result: %w", err)
	}
	return nil
}

// GetResult retrieves the stored outcome for a match.
func (s *MatchStore) GetResult(ctx context.Context, matchID string) (_ *storage.MatchResultRecord, err error) {
	started := time.Now()
	defer func() { s.pool.observe("get_match_result", started, err) }()

	query := `
		SELECT match_id, team_one_score, team_two_score, result,
		       winner_share, loser_share, completed_at
		FROM match_results
		WHERE match_id = $1
	`

	var res storage.MatchResultRecord
	var result string
	err = s.pool.QueryRow(ctx, query, matchID).Scan(
		&res.MatchID,
		&res.TeamOneScore,
		&res.TeamTwoScore,
		&result,
		&res.WinnerShare,
		&res.LoserShare,
		&res.CompletedAtMs,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get match result: %w", err)
	}
	res.Result = domain.MatchResult(result)
	return &res, nil
}

// GetByStatus retrieves all matches currently in the given status.
func (s *MatchStore) GetByStatus(ctx context.Context, status domain.MatchStatus) (_ []*domain.Match, err error) {
	started := time.Now()
	defer func() { s.pool.observe("get_matches_by_status", started, err) }()

	query := `
		SELECT ` + matchSelectColumns + `
		FROM matches m
		JOIN teams t1 ON t1.team_id = m.team_one_id
		LEFT JOIN teams t2 ON t2.team_id = m.team_two_id
		WHERE m.status = $1
		ORDER BY m.created_at ASC, m.match_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("get matches by status: %w", err)
	}
	defer rows.Close()

	var result []*domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// scanMatch reads one match row with both teams.
func scanMatch(row pgx.Row) (*domain.Match, error) {
	var (
		m      domain.Match
		status string

		teamOne domain.Team

		teamTwoID     *string
		teamTwoPlayer *string
		teamTwoTokens []string
		teamTwoSyms   []string
	)

	err := row.Scan(
		&m.ID,
		&status,
		&m.DurationSeconds,
		&m.StartTimestampMs,
		&m.EndTimestampMs,
		&m.PotAmount,
		&m.CreatedAtMs,
		&teamOne.ID,
		&teamOne.PlayerID,
		&teamOne.Tokens,
		&teamOne.Symbols,
		&teamTwoID,
		&teamTwoPlayer,
		&teamTwoTokens,
		&teamTwoSyms,
	)
	if err != nil {
		return nil, err
	}

	m.Status = domain.MatchStatus(status)
	m.TeamOne = &teamOne
	if teamTwoID != nil {
		m.TeamTwo = &domain.Team{
			ID:      *teamTwoID,
			Tokens:  teamTwoTokens,
			Symbols: teamTwoSyms,
		}
		if teamTwoPlayer != nil {
			m.TeamTwo.PlayerID = *teamTwoPlayer
		}
	}
	return &m, nil
}
