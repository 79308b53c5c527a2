package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
	"github.com/duelbot/internal/memstore"
)

func leaderboardConfig() *config.LeaderboardConfig {
	return &config.LeaderboardConfig{DefaultLimit: 10, MaxLimit: 50}
}

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New(nil)
	for _, r := range []struct {
		user             int64
		wins, streak, lv int
	}{
		{1, 4, 0, 3},
		{2, 6, 1, 2},
		{3, 4, 2, 1},
	} {
		_, err := store.UpdateProgress(context.Background(), domain.UserKey{UserID: r.user, GuildID: 1}, func(p *domain.UserProgress) error {
			p.Wins, p.WinStreak, p.Level, p.DuelsPlayed = r.wins, r.streak, r.lv, r.wins+1
			return nil
		})
		require.NoError(t, err)
	}
	return store
}

func TestTop_ReadsCache(t *testing.T) {
	ctx := context.Background()
	cached := []domain.LeaderboardEntry{{Rank: 1, UserID: 2, Wins: 6}}

	rankings := new(RankingCacheMock)
	rankings.On("Exists", mock.Anything, int64(1)).Return(true, nil)
	rankings.On("TopN", mock.Anything, int64(1), 10).Return(cached, nil)

	svc := NewLeaderboardService(rankings, seededStore(t), leaderboardConfig(), discardLogger())
	entries, err := svc.Top(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, cached, entries)
	rankings.AssertExpectations(t)
}

func TestTop_FallsBackToStore(t *testing.T) {
	ctx := context.Background()

	missing := new(RankingCacheMock)
	missing.On("Exists", mock.Anything, int64(1)).Return(false, nil)

	broken := new(RankingCacheMock)
	broken.On("Exists", mock.Anything, int64(1)).Return(false, errors.New("connection refused"))

	for name, rankings := range map[string]RankingCache{"not cached": missing, "cache down": broken, "no cache": nil} {
		t.Run(name, func(t *testing.T) {
			svc := NewLeaderboardService(rankings, seededStore(t), leaderboardConfig(), discardLogger())
			entries, err := svc.Top(ctx, 1, 5)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			assert.Equal(t, int64(2), entries[0].UserID)
			assert.Equal(t, int64(3), entries[1].UserID)
			assert.Equal(t, int64(1), entries[2].UserID)
			assert.Equal(t, int64(3), entries[2].Rank)
		})
	}
}

func TestTop_ValidatesLimit(t *testing.T) {
	svc := NewLeaderboardService(nil, memstore.New(nil), leaderboardConfig(), discardLogger())
	for _, limit := range []int{-1, 51} {
		_, err := svc.Top(context.Background(), 1, limit)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	}
	_, err := svc.Top(context.Background(), 1, 50)
	assert.NoError(t, err)
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	rankings := new(RankingCacheMock)
	rankings.On("Replace", mock.Anything, int64(1), map[int64]int64{
		1: domain.RankScore(4, 0, 3),
		2: domain.RankScore(6, 1, 2),
		3: domain.RankScore(4, 2, 1),
	}).Return(nil).Once()

	svc := NewLeaderboardService(rankings, seededStore(t), leaderboardConfig(), discardLogger())
	n, err := svc.Rebuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	rankings.AssertExpectations(t)

	guilds, err := svc.Guilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, guilds)
}
