package memory

import (
	"context"
	"sort"
	"sync"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// TickHistoryStore is an in-memory implementation of storage.TickHistoryStore.
// The audit trail has no uniqueness key: duplicate ticks are kept as-is.
type TickHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.MatchTickRecord // keyed by match_id
}

// NewTickHistoryStore creates a new in-memory tick history store.
func NewTickHistoryStore() *TickHistoryStore {
	return &TickHistoryStore{
		data: make(map[string][]*domain.MatchTickRecord),
	}
}

// InsertBulk appends tick records.
func (s *TickHistoryStore) InsertBulk(_ context.Context, records []*domain.MatchTickRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r == nil || r.MatchID == "" || r.Symbol == "" {
			return storage.ErrInvalidInput
		}
		recordCopy := *r
		s.data[r.MatchID] = append(s.data[r.MatchID], &recordCopy)
	}
	return nil
}

// GetByMatch retrieves all tick records for a match ordered by timestamp ASC.
func (s *TickHistoryStore) GetByMatch(_ context.Context, matchID string) ([]*domain.MatchTickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[matchID]
	result := make([]*domain.MatchTickRecord, 0, len(records))
	for _, r := range records {
		recordCopy := *r
		result = append(result, &recordCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}
