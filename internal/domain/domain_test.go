package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoveKind(t *testing.T) {
	tests := []struct {
		in   string
		want MoveKind
		ok   bool
	}{
		{"attack", MoveAttack, true},
		{" Defend ", MoveDefend, true},
		{"HEAL", MoveHeal, true},
		{"special", MoveSpecial, true},
		{"fireball", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoveKind(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidMove)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDuelPatchApply(t *testing.T) {
	d := &Duel{
		Status:     DuelStatusActive,
		Challenger: Combatant{UserID: 1, HP: 100},
		Challenged: Combatant{UserID: 2, HP: 100},
		Version:    3,
	}
	status := DuelStatusCompleted
	hp := 0
	winner := int64(1)
	ended := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	DuelPatch{Status: &status, ChallengedHP: &hp, WinnerID: &winner, EndedAt: &ended}.Apply(d)

	assert.Equal(t, DuelStatusCompleted, d.Status)
	assert.Equal(t, 100, d.Challenger.HP)
	assert.Equal(t, 0, d.Challenged.HP)
	require.NotNil(t, d.WinnerID)
	assert.Equal(t, int64(1), *d.WinnerID)
	assert.Equal(t, ended, *d.EndedAt)
	assert.Nil(t, d.StartedAt)
	assert.Equal(t, int64(4), d.Version)

	// the patch's pointers are not shared with the duel
	winner = 2
	assert.Equal(t, int64(1), *d.WinnerID)
}

func TestDuelSide(t *testing.T) {
	d := &Duel{Challenger: Combatant{UserID: 1}, Challenged: Combatant{UserID: 2}}

	self, opp := d.Side(2)
	assert.Equal(t, int64(2), self.UserID)
	assert.Equal(t, int64(1), opp.UserID)

	self.HP = 7
	assert.Equal(t, 7, d.Challenged.HP)

	assert.True(t, d.IsParticipant(1))
	assert.False(t, d.IsParticipant(3))
}

func TestIsDraw(t *testing.T) {
	winner := int64(1)
	assert.True(t, (&Duel{Status: DuelStatusCompleted}).IsDraw())
	assert.False(t, (&Duel{Status: DuelStatusCompleted, WinnerID: &winner}).IsDraw())
	assert.False(t, (&Duel{Status: DuelStatusCancelled}).IsDraw())
}

func TestTerminal(t *testing.T) {
	assert.False(t, DuelStatusPending.Terminal())
	assert.False(t, DuelStatusActive.Terminal())
	assert.True(t, DuelStatusCompleted.Terminal())
	assert.True(t, DuelStatusCancelled.Terminal())
	assert.True(t, DuelStatusTimeout.Terminal())
}

func TestDamageTotals(t *testing.T) {
	totals := DamageTotals([]DuelMove{
		{UserID: 1, Damage: 12},
		{UserID: 2, Damage: 0, Healing: 10},
		{UserID: 1, Damage: 30},
		{UserID: 2, Damage: 9},
	})
	assert.Equal(t, map[int64]int{1: 42, 2: 9}, totals)
}

func TestRankScoreRoundTrip(t *testing.T) {
	score := RankScore(17, 4, 23)
	assert.Equal(t, LeaderboardEntry{Rank: 1, UserID: 9, Wins: 17, WinStreak: 4, Level: 23}, EntryFromScore(1, 9, score))

	// ordering: wins beat streak, streak beats level
	assert.Greater(t, RankScore(2, 0, 1), RankScore(1, 999, 99))
	assert.Greater(t, RankScore(1, 2, 1), RankScore(1, 1, 99))
	assert.Greater(t, RankScore(1, 1, 5), RankScore(1, 1, 4))

	// streaks past the cap do not spill into wins
	capped := EntryFromScore(1, 1, RankScore(3, 5000, 10))
	assert.Equal(t, 3, capped.Wins)
	assert.Equal(t, 999, capped.WinStreak)
}

func TestCooldownError(t *testing.T) {
	var err error = &CooldownError{Remaining: 90 * time.Second}
	assert.True(t, errors.Is(err, ErrOnCooldown))
	assert.Equal(t, "on cooldown for another 1m30s", err.Error())
}

func TestNotFoundErrors(t *testing.T) {
	assert.True(t, IsNotFoundError(ErrDuelNotFound))
	assert.True(t, IsNotFoundError(ErrUserNotFound))
	assert.False(t, IsNotFoundError(ErrWrongState))
}

func TestWinRate(t *testing.T) {
	p := NewUserProgress(UserKey{UserID: 1, GuildID: 2}, time.Now())
	assert.Equal(t, 1, p.Level)
	assert.Zero(t, p.WinRate())

	p.Wins, p.DuelsPlayed = 3, 4
	assert.InDelta(t, 75.0, p.WinRate(), 1e-9)
}
