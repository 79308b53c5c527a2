package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/duelbot/internal/config"
	"github.com/duelbot/internal/domain"
)

// LeaderboardService serves guild rankings, preferring the ranking cache
// and falling back to the progression store.
type LeaderboardService struct {
	rankings RankingCache
	store    ProgressStore
	config   *config.LeaderboardConfig
	logger   *slog.Logger
}

// NewLeaderboardService creates a new leaderboard service. rankings may
// be nil, in which case every read goes to the store.
func NewLeaderboardService(
	rankings RankingCache,
	store ProgressStore,
	cfg *config.LeaderboardConfig,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		rankings: rankings,
		store:    store,
		config:   cfg,
		logger:   logger,
	}
}

// Top returns the guild's best players: wins, then win streak, then
// level. A zero limit uses the default; anything outside 1..MaxLimit is
// rejected.
func (s *LeaderboardService) Top(ctx context.Context, guildID int64, limit int) ([]domain.LeaderboardEntry, error) {
	if limit == 0 {
		limit = s.config.DefaultLimit
	}
	if limit < 1 || limit > s.config.MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidRequest, s.config.MaxLimit)
	}

	if s.rankings != nil {
		entries, err := s.cachedTop(ctx, guildID, limit)
		if err == nil && entries != nil {
			return entries, nil
		}
		if err != nil {
			s.logger.Warn("ranking cache unavailable, reading from store", "guild_id", guildID, "error", err)
		}
	}

	rows, err := s.store.TopProgress(ctx, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	return entriesFromRows(rows), nil
}

// cachedTop returns nil entries when the guild is not cached yet.
func (s *LeaderboardService) cachedTop(ctx context.Context, guildID int64, limit int) ([]domain.LeaderboardEntry, error) {
	exists, err := s.rankings.Exists(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return s.rankings.TopN(ctx, guildID, limit)
}

// Rebuild replaces a guild's cached rankings with the store's view.
func (s *LeaderboardService) Rebuild(ctx context.Context, guildID int64) (int, error) {
	if s.rankings == nil {
		return 0, nil
	}
	rows, err := s.store.TopProgress(ctx, guildID, 0)
	if err != nil {
		return 0, fmt.Errorf("loading guild %d records: %w", guildID, err)
	}
	scores := make(map[int64]int64, len(rows))
	for _, r := range rows {
		scores[r.UserID] = domain.RankScore(r.Wins, r.WinStreak, r.Level)
	}
	if err := s.rankings.Replace(ctx, guildID, scores); err != nil {
		return 0, fmt.Errorf("replacing guild %d rankings: %w", guildID, err)
	}
	return len(scores), nil
}

// Guilds lists every guild that has progression records.
func (s *LeaderboardService) Guilds(ctx context.Context) ([]int64, error) {
	return s.store.ListGuilds(ctx)
}

func entriesFromRows(rows []domain.UserProgress) []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, len(rows))
	for i, r := range rows {
		entries[i] = domain.LeaderboardEntry{
			Rank:      int64(i + 1),
			UserID:    r.UserID,
			Wins:      r.Wins,
			WinStreak: r.WinStreak,
			Level:     r.Level,
		}
	}
	return entries
}
