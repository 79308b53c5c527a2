package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/duelbot/internal/domain"
)

type RankingCacheMock struct {
	mock.Mock
}

func (m *RankingCacheMock) SetRank(ctx context.Context, guildID, userID, score int64) error {
	args := m.Called(ctx, guildID, userID, score)
	return args.Error(0)
}

func (m *RankingCacheMock) TopN(ctx context.Context, guildID int64, n int) ([]domain.LeaderboardEntry, error) {
	args := m.Called(ctx, guildID, n)
	entries, _ := args.Get(0).([]domain.LeaderboardEntry)
	return entries, args.Error(1)
}

func (m *RankingCacheMock) Rank(ctx context.Context, guildID, userID int64) (*domain.LeaderboardEntry, error) {
	args := m.Called(ctx, guildID, userID)
	entry, _ := args.Get(0).(*domain.LeaderboardEntry)
	return entry, args.Error(1)
}

func (m *RankingCacheMock) Exists(ctx context.Context, guildID int64) (bool, error) {
	args := m.Called(ctx, guildID)
	return args.Bool(0), args.Error(1)
}

func (m *RankingCacheMock) Replace(ctx context.Context, guildID int64, scores map[int64]int64) error {
	args := m.Called(ctx, guildID, scores)
	return args.Error(0)
}

type EventPublisherMock struct {
	mock.Mock
}

func (m *EventPublisherMock) PublishOutcomes(ctx context.Context, events []domain.DuelOutcomeEvent) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}
