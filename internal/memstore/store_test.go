package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func newDuel(guild, a, b int64) *domain.Duel {
	return &domain.Duel{
		GuildID:    guild,
		Mode:       domain.DuelModeTurn,
		Status:     domain.DuelStatusPending,
		Challenger: domain.Combatant{UserID: a, HP: 100, MaxHP: 100},
		Challenged: domain.Combatant{UserID: b, HP: 100, MaxHP: 100},
		CreatedAt:  t0,
	}
}

func TestCreateDuel_RejectsBusyParticipants(t *testing.T) {
	ctx := context.Background()
	s := New(func() time.Time { return t0 })

	first, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	_, err = s.CreateDuel(ctx, newDuel(1, 10, 30))
	assert.ErrorIs(t, err, domain.ErrDuelInProgress)
	_, err = s.CreateDuel(ctx, newDuel(1, 30, 20))
	assert.ErrorIs(t, err, domain.ErrDuelInProgress)

	// other guilds are independent
	_, err = s.CreateDuel(ctx, newDuel(2, 10, 20))
	assert.NoError(t, err)
}

func TestUpdateDuel_VersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	d, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)

	active := domain.DuelStatusActive
	updated, err := s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &active}, nil)
	require.NoError(t, err)
	assert.Equal(t, d.Version+1, updated.Version)

	_, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &active}, nil)
	assert.ErrorIs(t, err, domain.ErrStaleDuel)
}

func TestUpdateDuel_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	d, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)

	cancelled := domain.DuelStatusCancelled
	d, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &cancelled}, nil)
	require.NoError(t, err)

	active := domain.DuelStatusActive
	_, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &active}, nil)
	assert.ErrorIs(t, err, domain.ErrWrongState)
}

func TestUpdateDuel_AppendsMovesAtomically(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	d, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)

	hp := 90
	_, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, ChallengedHP: &hp},
		[]domain.DuelMove{{UserID: 10, Kind: domain.MoveAttack, Damage: 10}})
	require.NoError(t, err)

	moves, err := s.ListMoves(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, d.ID, moves[0].DuelID)
	assert.NotZero(t, moves[0].ID)

	got, err := s.GetDuel(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Challenged.HP)
}

func TestGetDuel_NotFound(t *testing.T) {
	_, err := New(nil).GetDuel(context.Background(), 99)
	assert.True(t, domain.IsNotFoundError(err))
}

func TestSettleDuel_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	d, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)

	completed := domain.DuelStatusCompleted
	_, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &completed}, nil)
	require.NoError(t, err)

	calls := 0
	fn := func(_ *domain.Duel, c, o domain.UserProgress, _ []domain.DuelMove) ([2]domain.UserProgress, error) {
		calls++
		c.Wins++
		o.Losses++
		return [2]domain.UserProgress{c, o}, nil
	}

	settled, err := s.SettleDuel(ctx, d.ID, t0, fn)
	require.NoError(t, err)
	require.NotNil(t, settled.SettledAt)

	_, err = s.SettleDuel(ctx, d.ID, t0, fn)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, 1, calls)

	p, err := s.GetProgress(ctx, domain.UserKey{UserID: 10, GuildID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Wins)
}

func TestSettleDuel_FailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	d, err := s.CreateDuel(ctx, newDuel(1, 10, 20))
	require.NoError(t, err)
	completed := domain.DuelStatusCompleted
	_, err = s.UpdateDuel(ctx, d.ID, domain.DuelPatch{ExpectVersion: d.Version, Status: &completed}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.SettleDuel(ctx, d.ID, t0, func(_ *domain.Duel, c, o domain.UserProgress, _ []domain.DuelMove) ([2]domain.UserProgress, error) {
		return [2]domain.UserProgress{}, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetDuel(ctx, d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SettledAt)
}

func TestTopProgress_Ordering(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	set := func(user int64, wins, streak, level, played int) {
		_, err := s.UpdateProgress(ctx, domain.UserKey{UserID: user, GuildID: 1}, func(p *domain.UserProgress) error {
			p.Wins, p.WinStreak, p.Level, p.DuelsPlayed = wins, streak, level, played
			return nil
		})
		require.NoError(t, err)
	}
	set(1, 5, 0, 3, 9)
	set(2, 5, 2, 1, 7)
	set(3, 7, 0, 1, 7)
	set(4, 0, 0, 50, 0) // never dueled
	set(5, 5, 2, 4, 8)

	rows, err := s.TopProgress(ctx, 1, 10)
	require.NoError(t, err)
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
	}
	assert.Equal(t, []int64{3, 5, 2, 1}, ids)

	rows, err = s.TopProgress(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestStalePending(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	old := newDuel(1, 1, 2)
	old.CreatedAt = t0.Add(-time.Hour)
	fresh := newDuel(1, 3, 4)
	fresh.CreatedAt = t0
	active := newDuel(1, 5, 6)
	active.CreatedAt = t0.Add(-2 * time.Hour)
	active.Status = domain.DuelStatusActive

	o, err := s.CreateDuel(ctx, old)
	require.NoError(t, err)
	_, err = s.CreateDuel(ctx, fresh)
	require.NoError(t, err)
	_, err = s.CreateDuel(ctx, active)
	require.NoError(t, err)

	ids, err := s.StalePending(ctx, t0.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{o.ID}, ids)
}
