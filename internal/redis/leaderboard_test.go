package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/domain"
)

func TestRankingKey(t *testing.T) {
	assert.Equal(t, "duel:leaderboard:42", rankingKey(42))
	assert.Equal(t, "1234567890123", member(1234567890123))
}

func TestRankedEntries(t *testing.T) {
	entries, err := rankedEntries([]redis.Z{
		{Score: float64(domain.RankScore(9, 3, 12)), Member: "77"},
		{Score: float64(domain.RankScore(4, 0, 2)), Member: "5"},
	}, nil, 10)
	require.NoError(t, err)

	assert.Equal(t, []domain.LeaderboardEntry{
		{Rank: 1, UserID: 77, Wins: 9, WinStreak: 3, Level: 12},
		{Rank: 2, UserID: 5, Wins: 4, WinStreak: 0, Level: 2},
	}, entries)
}

func TestRankedEntries_TiesOrderedByUserID(t *testing.T) {
	top := float64(domain.RankScore(5, 1, 3))
	tie := float64(domain.RankScore(2, 0, 1))

	// redis returns equal scores by member descending, and "9" > "10" as strings
	entries, err := rankedEntries(
		[]redis.Z{
			{Score: top, Member: "40"},
			{Score: tie, Member: "9"},
			{Score: tie, Member: "3"},
		},
		[]redis.Z{
			{Score: tie, Member: "10"},
			{Score: tie, Member: "3"},
			{Score: tie, Member: "2"},
			{Score: tie, Member: "9"},
		},
		3,
	)
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, int64(40), entries[0].UserID)
	assert.Equal(t, int64(2), entries[1].UserID)
	assert.Equal(t, int64(3), entries[2].UserID)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Rank, entries[1].Rank, entries[2].Rank})
}

func TestRankedEntries_BadMember(t *testing.T) {
	_, err := rankedEntries([]redis.Z{{Score: 1, Member: "not-a-number"}}, nil, 0)
	assert.Error(t, err)

	_, err = rankedEntries([]redis.Z{{Score: 1, Member: 12}}, nil, 0)
	assert.Error(t, err)
}

func TestTiedAhead(t *testing.T) {
	ahead, err := tiedAhead([]string{"9", "10", "3", "12"}, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ahead)

	ahead, err = tiedAhead([]string{"10"}, 10)
	require.NoError(t, err)
	assert.Zero(t, ahead)

	_, err = tiedAhead([]string{"x"}, 1)
	assert.Error(t, err)
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "3004012", formatScore(float64(domain.RankScore(3, 4, 12))))
}
