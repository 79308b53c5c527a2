package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duelbot/internal/domain"
	"github.com/duelbot/internal/progression"
)

// MaxGrant is the largest direct experience grant accepted.
const MaxGrant = 1000

// ProgressStore persists user progression records.
type ProgressStore interface {
	GetProgress(ctx context.Context, key domain.UserKey) (*domain.UserProgress, error)
	GetOrCreateProgress(ctx context.Context, key domain.UserKey) (*domain.UserProgress, error)
	// UpdateProgress runs fn on the locked record and saves it.
	UpdateProgress(ctx context.Context, key domain.UserKey, fn func(p *domain.UserProgress) error) (*domain.UserProgress, error)
	// SettleDuel locks the duel and both records, calls fn with the
	// pre-duel snapshots and writes its result, marking the duel settled.
	SettleDuel(ctx context.Context, duelID int64, settledAt time.Time, fn domain.SettleFunc) (*domain.Duel, error)
	TopProgress(ctx context.Context, guildID int64, limit int) ([]domain.UserProgress, error)
	ListGuilds(ctx context.Context) ([]int64, error)
}

// RankingCache is the fast per-guild leaderboard.
type RankingCache interface {
	SetRank(ctx context.Context, guildID, userID, score int64) error
	TopN(ctx context.Context, guildID int64, n int) ([]domain.LeaderboardEntry, error)
	Rank(ctx context.Context, guildID, userID int64) (*domain.LeaderboardEntry, error)
	Exists(ctx context.Context, guildID int64) (bool, error)
	Replace(ctx context.Context, guildID int64, scores map[int64]int64) error
}

// EventPublisher ships settled duel outcomes to other consumers.
type EventPublisher interface {
	PublishOutcomes(ctx context.Context, events []domain.DuelOutcomeEvent) error
}

// ProgressionService applies duel results and experience grants to user
// records and propagates the new standings.
type ProgressionService struct {
	store     ProgressStore
	rankings  RankingCache
	publisher EventPublisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewProgressionService creates a new progression service. rankings and
// publisher are optional. When a publisher is set the ranking cache is
// left to the event consumer.
func NewProgressionService(
	store ProgressStore,
	rankings RankingCache,
	publisher EventPublisher,
	logger *slog.Logger,
) *ProgressionService {
	return &ProgressionService{
		store:     store,
		rankings:  rankings,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

// SettleDuel applies a completed duel to both participants. It returns
// domain.ErrAlreadySettled if the duel was settled before.
func (s *ProgressionService) SettleDuel(ctx context.Context, d *domain.Duel) ([2]domain.SettlementResult, error) {
	now := s.now()
	var (
		records [2]domain.UserProgress
		results [2]domain.SettlementResult
	)
	settled, err := s.store.SettleDuel(ctx, d.ID, now, func(d *domain.Duel, c, o domain.UserProgress, moves []domain.DuelMove) ([2]domain.UserProgress, error) {
		records, results = progression.SettleDuel(d, c, o, moves, now)
		return records, nil
	})
	if err != nil {
		return results, fmt.Errorf("settling duel %d: %w", d.ID, err)
	}

	s.logger.Info("duel settled",
		"duel_id", settled.ID,
		"guild_id", settled.GuildID,
		"challenger_xp", results[0].XPGained,
		"challenged_xp", results[1].XPGained,
	)

	events := make([]domain.DuelOutcomeEvent, 0, 2)
	for i, rec := range records {
		events = append(events, domain.DuelOutcomeEvent{
			EventID:   uuid.NewString(),
			DuelID:    settled.ID,
			GuildID:   settled.GuildID,
			UserID:    rec.UserID,
			Outcome:   outcomeFor(settled, rec.UserID).String(),
			XPGained:  results[i].XPGained,
			Level:     rec.Level,
			Wins:      rec.Wins,
			WinStreak: rec.WinStreak,
			IsOutlaw:  rec.IsOutlaw,
			Timestamp: now,
		})
	}
	s.propagate(ctx, events)

	return results, nil
}

// GrantExperience adds amount (0..MaxGrant) experience to a user.
func (s *ProgressionService) GrantExperience(ctx context.Context, key domain.UserKey, amount int64) (*domain.SettlementResult, error) {
	if amount < 0 || amount > MaxGrant {
		return nil, domain.ErrInvalidAmount
	}

	var oldLevel int
	rec, err := s.store.UpdateProgress(ctx, key, func(p *domain.UserProgress) error {
		oldLevel = p.Level
		p.Experience += amount
		p.Level = progression.LevelFromExperience(p.Experience)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("granting experience: %w", err)
	}

	s.logger.Info("experience granted",
		"user_id", key.UserID,
		"guild_id", key.GuildID,
		"amount", amount,
		"level", rec.Level,
	)

	if rec.DuelsPlayed > 0 && s.rankings != nil {
		score := domain.RankScore(rec.Wins, rec.WinStreak, rec.Level)
		if err := s.rankings.SetRank(ctx, key.GuildID, key.UserID, score); err != nil {
			s.logger.Warn("failed to update ranking", "user_id", key.UserID, "error", err)
		}
	}

	return &domain.SettlementResult{
		UserID:     rec.UserID,
		XPGained:   amount,
		LeveledUp:  rec.Level > oldLevel,
		NewLevel:   rec.Level,
		DuelsToday: rec.DuelsToday,
		IsOutlaw:   rec.IsOutlaw,
	}, nil
}

// Profile returns a user's record together with their level progress.
func (s *ProgressionService) Profile(ctx context.Context, key domain.UserKey) (*domain.Profile, error) {
	rec, err := s.store.GetOrCreateProgress(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	p := progression.ProgressOf(rec.Level, rec.Experience)
	prof := &domain.Profile{
		Progress:      *rec,
		XPIntoLevel:   p.IntoLevel,
		XPForNext:     p.ForNext,
		PercentToNext: p.Percent,
		WinRate:       rec.WinRate(),
	}
	if rec.DuelsPlayed > 0 {
		prof.Rank = s.rankOf(ctx, key)
	}
	return prof, nil
}

// rankOf asks the ranking cache first and falls back to ordering the
// guild's stored records. Zero means the position could not be found.
func (s *ProgressionService) rankOf(ctx context.Context, key domain.UserKey) int64 {
	if s.rankings != nil {
		entry, err := s.rankings.Rank(ctx, key.GuildID, key.UserID)
		if err == nil {
			return entry.Rank
		}
		if !errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Warn("failed to read cached rank", "guild_id", key.GuildID, "user_id", key.UserID, "error", err)
		}
	}

	rows, err := s.store.TopProgress(ctx, key.GuildID, 0)
	if err != nil {
		s.logger.Warn("failed to compute rank", "guild_id", key.GuildID, "user_id", key.UserID, "error", err)
		return 0
	}
	for i, row := range rows {
		if row.UserID == key.UserID {
			return int64(i) + 1
		}
	}
	return 0
}

// Level returns a user's current level, creating the record if needed.
func (s *ProgressionService) Level(ctx context.Context, key domain.UserKey) (int, error) {
	rec, err := s.store.GetOrCreateProgress(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("loading progress: %w", err)
	}
	return rec.Level, nil
}

// propagate publishes outcome events, or writes the rankings directly
// when no publisher is configured. Failures are logged; the sync worker
// rebuilds rankings from the store.
func (s *ProgressionService) propagate(ctx context.Context, events []domain.DuelOutcomeEvent) {
	if s.publisher != nil {
		if err := s.publisher.PublishOutcomes(ctx, events); err != nil {
			s.logger.Warn("failed to publish duel outcomes", "duel_id", events[0].DuelID, "error", err)
		}
		return
	}
	if s.rankings == nil {
		return
	}
	for _, e := range events {
		if err := s.rankings.SetRank(ctx, e.GuildID, e.UserID, e.RankScore()); err != nil {
			s.logger.Warn("failed to update ranking", "user_id", e.UserID, "error", err)
		}
	}
}

func outcomeFor(d *domain.Duel, userID int64) progression.Outcome {
	switch {
	case d.WinnerID == nil:
		return progression.Draw
	case *d.WinnerID == userID:
		return progression.Win
	}
	return progression.Loss
}
