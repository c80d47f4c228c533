package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// ScoreSampleStore is an in-memory implementation of storage.ScoreSampleStore.
type ScoreSampleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TeamScoreSample // keyed by (match_id, team_id, timestamp_ms)
}

// NewScoreSampleStore creates a new in-memory score sample store.
func NewScoreSampleStore() *ScoreSampleStore {
	return &ScoreSampleStore{
		data: make(map[string]*domain.TeamScoreSample),
	}
}

// sampleKey generates a unique key for a sample.
func sampleKey(matchID, teamID string, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%d", matchID, teamID, timestampMs)
}

// InsertBulk appends samples. Fails entire batch on duplicate.
func (s *ScoreSampleStore) InsertBulk(_ context.Context, samples []*domain.TeamScoreSample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(samples))

	// First pass: check for duplicates (existing + intra-batch)
	for _, sample := range samples {
		if sample == nil || sample.MatchID == "" || sample.TeamID == "" {
			return storage.ErrInvalidInput
		}
		key := sampleKey(sample.MatchID, sample.TeamID, sample.TimestampMs)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, sample := range samples {
		key := sampleKey(sample.MatchID, sample.TeamID, sample.TimestampMs)
		sampleCopy := *sample
		s.data[key] = &sampleCopy
	}

	return nil
}

// GetByMatchTeam retrieves a team's samples ordered by timestamp ASC.
func (s *ScoreSampleStore) GetByMatchTeam(_ context.Context, matchID, teamID string) ([]*domain.TeamScoreSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TeamScoreSample
	for _, sample := range s.data {
		if sample.MatchID == matchID && sample.TeamID == teamID {
			sampleCopy := *sample
			result = append(result, &sampleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// DeleteByMatch discards all samples for a match.
func (s *ScoreSampleStore) DeleteByMatch(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sample := range s.data {
		if sample.MatchID == matchID {
			delete(s.data, key)
		}
	}
	return nil
}
