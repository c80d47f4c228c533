package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
	"token-battles/internal/storage/postgres"
)

func TestScoreSampleStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewScoreSampleStore(pool)

	matchID := uuid.NewString()
	teamID := uuid.NewString()

	samples := []*domain.TeamScoreSample{
		{MatchID: matchID, TeamID: teamID, TimestampMs: 3000, PercentChange: 0.3},
		{MatchID: matchID, TeamID: teamID, TimestampMs: 1000, PercentChange: 0.1},
		{MatchID: matchID, TeamID: teamID, TimestampMs: 2000, PercentChange: 0.2},
	}
	require.NoError(t, store.InsertBulk(ctx, samples))

	got, err := store.GetByMatchTeam(ctx, matchID, teamID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.EqualValues(t, 1000, got[0].TimestampMs)
	require.EqualValues(t, 3000, got[2].TimestampMs)
}

func TestScoreSampleStore_DuplicateFailsBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewScoreSampleStore(pool)

	matchID := uuid.NewString()
	teamID := uuid.NewString()

	require.NoError(t, store.InsertBulk(ctx, []*domain.TeamScoreSample{
		{MatchID: matchID, TeamID: teamID, TimestampMs: 1000, PercentChange: 0.1},
	}))

	err := store.InsertBulk(ctx, []*domain.TeamScoreSample{
		{MatchID: matchID, TeamID: teamID, TimestampMs: 2000, PercentChange: 0.2},
		{MatchID: matchID, TeamID: teamID, TimestampMs: 1000, PercentChange: 0.9},
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Batch is atomic: the non-duplicate row must have been rolled back.
	got, err := store.GetByMatchTeam(ctx, matchID, teamID)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestScoreSampleStore_DeleteByMatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewScoreSampleStore(pool)

	matchID := uuid.NewString()
	otherID := uuid.NewString()
	teamID := uuid.NewString()

	require.NoError(t, store.InsertBulk(ctx, []*domain.TeamScoreSample{
		{MatchID: matchID, TeamID: teamID, TimestampMs: 1000, PercentChange: 0.1},
		{MatchID: otherID, TeamID: teamID, TimestampMs: 1000, PercentChange: 0.5},
	}))

	require.NoError(t, store.DeleteByMatch(ctx, matchID))

	gone, err := store.GetByMatchTeam(ctx, matchID, teamID)
	require.NoError(t, err)
	require.Empty(t, gone)

	kept, err := store.GetByMatchTeam(ctx, otherID, teamID)
	require.NoError(t, err)
	require.Len(t, kept, 1)
}
