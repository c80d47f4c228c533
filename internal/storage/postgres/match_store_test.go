package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"token-battles/internal/domain"
	"token-battles/internal/storage"
	"token-battles/internal/storage/postgres"
)

func testMatch() *domain.Match {
	return &domain.Match{
		ID:     uuid.NewString(),
		Status: domain.MatchPending,
		TeamOne: &domain.Team{
			ID:       uuid.NewString(),
			PlayerID: "player-one",
			Tokens:   []string{"bitcoin", "ethereum"},
			Symbols:  []string{"btcusdt", "ethusdt"},
		},
		DurationSeconds: 60,
		PotAmount:       2.0,
		CreatedAtMs:     1700000000000,
	}
}

func TestMatchStore_RoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewMatchStore(pool)

	m := testMatch()
	require.NoError(t, store.Insert(ctx, m))

	got, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.Equal(t, domain.MatchPending, got.Status)
	require.Equal(t, []string{"btcusdt", "ethusdt"}, got.TeamOne.Symbols)
	require.Nil(t, got.TeamTwo)

	// Duplicate id rejected.
	dup := testMatch()
	dup.ID = m.ID
	require.ErrorIs(t, store.Insert(ctx, dup), storage.ErrDuplicateKey)
}

func TestMatchStore_QueryObserver(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	var mu sync.Mutex
	ops := make(map[string]int)
	var failures int
	pool.Observer = func(operation string, seconds float64, err error) {
		mu.Lock()
		defer mu.Unlock()
		ops[operation]++
		if seconds < 0 {
			t.Errorf("%s: negative duration %v", operation, seconds)
		}
		if err != nil {
			failures++
		}
	}

	ctx := context.Background()
	store := postgres.NewMatchStore(pool)

	m := testMatch()
	require.NoError(t, store.Insert(ctx, m))
	_, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	_, err = store.GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, ops["insert_match"])
	require.Equal(t, 2, ops["get_match"])
	require.Equal(t, 1, failures)
}

func TestMatchStore_GetMissing(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewMatchStore(pool)
	_, err := store.GetByID(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMatchStore_BindAndTransition(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewMatchStore(pool)

	m := testMatch()
	require.NoError(t, store.Insert(ctx, m))

	teamTwo := &domain.Team{
		ID:       uuid.NewString(),
		PlayerID: "player-two",
		Tokens:   []string{"solana"},
		Symbols:  []string{"solusdt"},
	}
	require.NoError(t, store.BindTeamTwo(ctx, m.ID, teamTwo))

	// Rebinding is rejected.
	teamThree := &domain.Team{ID: uuid.NewString(), PlayerID: "player-three"}
	require.ErrorIs(t, store.BindTeamTwo(ctx, m.ID, teamThree), storage.ErrDuplicateKey)

	require.NoError(t, store.UpdateStatus(ctx, m.ID, domain.MatchInProgress, 5000, 65000))

	got, err := store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MatchInProgress, got.Status)
	require.EqualValues(t, 5000, got.StartTimestampMs)
	require.EqualValues(t, 65000, got.EndTimestampMs)
	require.NotNil(t, got.TeamTwo)
	require.Equal(t, teamTwo.ID, got.TeamTwo.ID)

	require.NoError(t, store.UpdateStatus(ctx, m.ID, domain.MatchCompleted, 0, 0))

	// COMPLETED is terminal.
	err = store.UpdateStatus(ctx, m.ID, domain.MatchInProgress, 0, 0)
	var invalid *domain.ErrInvalidTransition
	require.ErrorAs(t, err, &invalid)

	// Timestamps untouched by the zero-valued update.
	got, err = store.GetByID(ctx, m.ID)
	require.NoError(t, err)
	require.EqualValues(t, 5000, got.StartTimestampMs)
}

func TestMatchStore_ResultLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewMatchStore(pool)

	m := testMatch()
	require.NoError(t, store.Insert(ctx, m))

	res := &storage.MatchResultRecord{
		MatchID:       m.ID,
		TeamOneScore:  0.5,
		TeamTwoScore:  0.1,
		Result:        domain.ResultTeamOne,
		WinnerShare:   1.5,
		LoserShare:    0.5,
		CompletedAtMs: 1700000060000,
	}
	require.NoError(t, store.SetResult(ctx, m.ID, res))
	require.ErrorIs(t, store.SetResult(ctx, m.ID, res), storage.ErrDuplicateKey)

	got, err := store.GetResult(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ResultTeamOne, got.Result)
	require.InDelta(t, 1.5, got.WinnerShare, 1e-9)
	require.InDelta(t, 0.5, got.LoserShare, 1e-9)
}

func TestMatchStore_GetByStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewMatchStore(pool)

	first := testMatch()
	second := testMatch()
	require.NoError(t, store.Insert(ctx, first))
	require.NoError(t, store.Insert(ctx, second))
	require.NoError(t, store.UpdateStatus(ctx, second.ID, domain.MatchInProgress, 1000, 61000))

	pending, err := store.GetByStatus(ctx, domain.MatchPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, first.ID, pending[0].ID)
}
