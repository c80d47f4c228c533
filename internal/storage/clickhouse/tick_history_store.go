package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// TickHistoryStore implements storage.TickHistoryStore using ClickHouse.
// The audit trail is append-only and has no uniqueness key; MergeTree
// keeps duplicates as-is, which is acceptable for advisory data.
type TickHistoryStore struct {
	conn *Conn
}

// NewTickHistoryStore creates a new TickHistoryStore.
func NewTickHistoryStore(conn *Conn) *TickHistoryStore {
	return &TickHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TickHistoryStore = (*TickHistoryStore)(nil)

// InsertBulk appends tick records in one batch.
func (s *TickHistoryStore) InsertBulk(ctx context.Context, records []*domain.MatchTickRecord) (err error) {
	started := time.Now()
	defer func() { s.conn.observe("insert_tick_history", started, err) }()

	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO match_tick_history (
			match_id, symbol, price, timestamp_ms, recorded_at_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if r == nil || r.MatchID == "" || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		err = batch.Append(r.MatchID, r.Symbol, r.Price, r.TimestampMs, r.RecordedAtMs)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByMatch retrieves all tick records for a match ordered by timestamp ASC.
func (s *TickHistoryStore) GetByMatch(ctx context.Context, matchID string) (_ []*domain.MatchTickRecord, err error) {
	started := time.Now()
	defer func() { s.conn.observe("get_tick_history", started, err) }()

	query := `
		SELECT match_id, symbol, price, timestamp_ms, recorded_at_ms
		FROM match_tick_history
		WHERE match_id = ?
		ORDER BY timestamp_ms ASC, symbol ASC
	`

	rows, err := s.conn.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("query tick history: %w", err)
	}
	defer rows.Close()

	var result []*domain.MatchTickRecord
	for rows.Next() {
		var r domain.MatchTickRecord
		if err := rows.Scan(&r.MatchID, &r.Symbol, &r.Price, &r.TimestampMs, &r.RecordedAtMs); err != nil {
			return nil, fmt.Errorf("scan tick record: %w", err)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
