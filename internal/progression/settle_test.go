package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/domain"
)

var settleNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func record(userID int64, level int) domain.UserProgress {
	p := domain.NewUserProgress(domain.UserKey{UserID: userID, GuildID: 7}, settleNow.Add(-48*time.Hour))
	p.Level = level
	p.Experience = RequiredXP(level)
	return p
}

func TestSettle_FirstDuelOfDay(t *testing.T) {
	self := record(1, 10)
	opp := record(2, 10)

	next, res := Settle(self, opp, Participation{Outcome: Win, DamageDealt: 50, DamageTaken: 12}, settleNow)

	assert.Equal(t, int64(22), res.XPGained)
	assert.Equal(t, RequiredXP(10)+22, next.Experience)
	assert.Equal(t, 1, next.DuelsToday)
	assert.Equal(t, 1, res.DuelsToday)
	assert.Equal(t, 1, next.Wins)
	assert.Equal(t, 1, next.WinStreak)
	assert.Equal(t, 1, next.BestWinStreak)
	assert.Equal(t, int64(50), next.TotalDamageDealt)
	assert.Equal(t, int64(12), next.TotalDamageTaken)
	assert.Equal(t, 1, next.DuelsPlayed)
	require.NotNil(t, next.LastDuelAt)
	assert.True(t, next.LastDuelAt.Equal(settleNow))
}

func TestSettle_SameDayAccumulates(t *testing.T) {
	self := record(1, 10)
	earlier := settleNow.Add(-2 * time.Hour)
	self.LastDuelAt = &earlier
	self.DuelsToday = 10

	next, res := Settle(self, record(2, 10), Participation{Outcome: Win, DamageDealt: 50}, settleNow)

	// (10 + 2 + 0 + 0 + 5) * 0.1
	assert.Equal(t, int64(1), res.XPGained)
	assert.Equal(t, 11, next.DuelsToday)
}

func TestSettle_NewDayResetsCounter(t *testing.T) {
	self := record(1, 10)
	yesterday := settleNow.Add(-20 * time.Hour)
	self.LastDuelAt = &yesterday
	self.DuelsToday = 12

	next, res := Settle(self, record(2, 10), Participation{Outcome: Win, DamageDealt: 50}, settleNow)

	assert.Equal(t, int64(22), res.XPGained)
	assert.Equal(t, 1, next.DuelsToday)
}

func TestSettle_OutlawLifecycle(t *testing.T) {
	self := record(1, 5)
	opp := record(2, 5)

	for i := 1; i <= 5; i++ {
		self, _ = Settle(self, opp, Participation{Outcome: Win, DamageDealt: 30}, settleNow)
		assert.Equal(t, i >= OutlawStreak, self.IsOutlaw, "after win %d", i)
	}
	assert.Equal(t, 5, self.WinStreak)

	self, res := Settle(self, opp, Participation{Outcome: Loss, DamageDealt: 5}, settleNow)
	assert.Equal(t, 0, self.WinStreak)
	assert.False(t, self.IsOutlaw)
	assert.False(t, res.IsOutlaw)
	assert.Equal(t, 5, self.BestWinStreak)
	assert.Equal(t, 1, self.Losses)
}

func TestSettle_DrawKeepsStreak(t *testing.T) {
	self := record(1, 10)
	self.WinStreak = 6
	self.BestWinStreak = 6
	self.IsOutlaw = true

	next, res := Settle(self, record(2, 10), Participation{Outcome: Draw, DamageDealt: 60}, settleNow)

	assert.Equal(t, 1, next.Draws)
	assert.Equal(t, 0, next.Wins)
	assert.Equal(t, 0, next.Losses)
	assert.Equal(t, 6, next.WinStreak)
	assert.True(t, next.IsOutlaw)
	// loss-side formula: 5 + 3 + 0 + 5 + 6
	assert.Equal(t, int64(19), res.XPGained)
}

func TestSettle_LevelUp(t *testing.T) {
	self := record(1, 1)
	self.Experience = RequiredXP(2) - 3

	next, res := Settle(self, record(2, 1), Participation{Outcome: Win, DamageDealt: 20}, settleNow)

	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.NewLevel)
	assert.Equal(t, LevelFromExperience(next.Experience), next.Level)
}

func TestSettleDuel_UsesPreDuelSnapshots(t *testing.T) {
	challenger := record(1, 10)
	challenged := record(2, 20)
	challenged.IsOutlaw = true
	challenged.WinStreak = 7

	winner := int64(1)
	d := &domain.Duel{
		Status:     domain.DuelStatusCompleted,
		Challenger: domain.Combatant{UserID: 1},
		Challenged: domain.Combatant{UserID: 2},
		WinnerID:   &winner,
	}
	moves := []domain.DuelMove{
		{UserID: 1, Damage: 30},
		{UserID: 2, Damage: 11},
		{UserID: 1, Damage: 20},
	}

	records, results := SettleDuel(d, challenger, challenged, moves, settleNow)

	// beat a stronger outlaw: 22 * 2 * 2
	assert.Equal(t, int64(88), results[0].XPGained)
	assert.Equal(t, int64(50), records[0].TotalDamageDealt)
	assert.Equal(t, int64(11), records[0].TotalDamageTaken)

	// the loser is judged against the challenger's pre-duel level 10
	// (5 + 0 + 0 + 5 + 1) * 0.5
	assert.Equal(t, int64(5), results[1].XPGained)
	assert.False(t, records[1].IsOutlaw)
	assert.Equal(t, 0, records[1].WinStreak)
}

func TestSettleDuel_DoubleKnockoutIsDraw(t *testing.T) {
	d := &domain.Duel{
		Status:     domain.DuelStatusCompleted,
		Challenger: domain.Combatant{UserID: 1},
		Challenged: domain.Combatant{UserID: 2},
	}
	a := record(1, 3)
	a.WinStreak = 2
	records, _ := SettleDuel(d, a, record(2, 3), nil, settleNow)

	for _, r := range records {
		assert.Equal(t, 1, r.Draws)
		assert.Equal(t, 0, r.Losses)
		assert.Equal(t, 0, r.Wins)
	}
	assert.Equal(t, 2, records[0].WinStreak)
}
