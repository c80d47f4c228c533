package memory

import (
	"context"
	"sync"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
)

// MatchStore is an in-memory implementation of storage.MatchStore.
type MatchStore struct {
	mu      sync.RWMutex
	matches map[string]*domain.Match
	results map[string]*storage.MatchResultRecord
}

// NewMatchStore creates a new in-memory match store.
func NewMatchStore() *MatchStore {
	return &MatchStore{
		matches: make(map[string]*domain.Match),
		results: make(map[string]*storage.MatchResultRecord),
	}
}

// Insert adds a new match. Returns ErrDuplicateKey if the id exists.
func (s *MatchStore) Insert(_ context.Context, m *domain.Match) error {
	if m == nil || m.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[m.ID]; exists {
		return storage.ErrDuplicateKey
	}

	matchCopy := *m
	s.matches[m.ID] = &matchCopy
	return nil
}

// GetByID retrieves a match by id.
func (s *MatchStore) GetByID(_ context.Context, matchID string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[matchID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	matchCopy := *m
	return &matchCopy, nil
}

// UpdateStatus transitions a match to a new status.
func (s *MatchStore) UpdateStatus(_ context.Context, matchID string, status domain.MatchStatus, startMs, endMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return storage.ErrNotFound
	}

	if !domain.CanTransition(m.Status, status) {
		return &domain.ErrInvalidTransition{From: m.Status, To: status}
	}

	m.Status = status
	if startMs != 0 {
		m.StartTimestampMs = startMs
	}
	if endMs != 0 {
		m.EndTimestampMs = endMs
	}
	return nil
}

// BindTeamTwo attaches the second team to a pending match.
func (s *MatchStore) BindTeamTwo(_ context.Context, matchID string, team *domain.Team) error {
	if team == nil || team.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return storage.ErrNotFound
	}
	if m.Status != domain.MatchPending {
		return &domain.ErrInvalidTransition{From: m.Status, To: m.Status}
	}
	if m.TeamTwo != nil {
		return storage.ErrDuplicateKey
	}

	teamCopy := *team
	m.TeamTwo = &teamCopy
	return nil
}

// SetResult records the final outcome of a completed match.
func (s *MatchStore) SetResult(_ context.Context, matchID string, res *storage.MatchResultRecord) error {
	if res == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[matchID]; !ok {
		return storage.ErrNotFound
	}
	if _, exists := s.results[matchID]; exists {
		return storage.ErrDuplicateKey
	}

	resCopy := *res
	s.results[matchID] = &resCopy
	return nil
}

// GetResult retrieves the stored outcome for a match.
func (s *MatchStore) GetResult(_ context.Context, matchID string) (*storage.MatchResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[matchID]
	if !ok {
		return nil, storage.ErrNotFound
	}

	resCopy := *res
	return &resCopy, nil
}

// GetByStatus retrieves all matches currently in the given status.
func (s *MatchStore) GetByStatus(_ context.Context, status domain.MatchStatus) ([]*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Match
	for _, m := range s.matches {
		if m.Status == status {
			matchCopy := *m
			result = append(result, &matchCopy)
		}
	}
	return result, nil
}
