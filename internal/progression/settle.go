package progression

import (
	"time"

	"github.com/duelbot/internal/domain"
)

// OutlawStreak is the win streak at which a user becomes an outlaw.
const OutlawStreak = 5

// Outcome is one participant's result in a finished duel.
type Outcome int

const (
	Loss Outcome = iota
	Win
	Draw
)

// String returns the event label for the outcome.
func (o Outcome) String() string {
	switch o {
	case Win:
		return domain.OutcomeWin
	case Draw:
		return domain.OutcomeDraw
	default:
		return domain.OutcomeLoss
	}
}

// Participation is what one side did in a duel.
type Participation struct {
	Outcome     Outcome
	DamageDealt int
	DamageTaken int
}

// Settle applies one finished duel to self. opponent must be the
// opponent's record as it was before the duel, so both sides can be
// settled in any order.
func Settle(self, opponent domain.UserProgress, p Participation, now time.Time) (domain.UserProgress, domain.SettlementResult) {
	next := self
	firstToday := !sameDay(self.LastDuelAt, now)
	priorToday := self.DuelsToday
	if firstToday {
		priorToday = 0
	}

	xp := Award(AwardInput{
		Won:              p.Outcome == Win,
		DamageDealt:      p.DamageDealt,
		OwnLevel:         self.Level,
		OpponentLevel:    opponent.Level,
		FirstDuelToday:   firstToday,
		OpponentIsOutlaw: opponent.IsOutlaw,
		WinStreak:        self.WinStreak,
		DuelsToday:       priorToday,
	})

	next.Experience += xp
	next.Level = LevelFromExperience(next.Experience)
	next.DuelsToday = priorToday + 1
	at := now
	next.LastDuelAt = &at

	switch p.Outcome {
	case Win:
		next.Wins++
		next.WinStreak++
		next.BestWinStreak = max(next.BestWinStreak, next.WinStreak)
		next.IsOutlaw = next.WinStreak >= OutlawStreak
	case Loss:
		next.Losses++
		next.WinStreak = 0
		next.IsOutlaw = false
	case Draw:
		next.Draws++
	}

	next.TotalDamageDealt += int64(max(p.DamageDealt, 0))
	next.TotalDamageTaken += int64(max(p.DamageTaken, 0))
	next.DuelsPlayed++
	next.UpdatedAt = now

	return next, domain.SettlementResult{
		UserID:     self.UserID,
		XPGained:   xp,
		LeveledUp:  next.Level > self.Level,
		NewLevel:   next.Level,
		DuelsToday: next.DuelsToday,
		IsOutlaw:   next.IsOutlaw,
	}
}

// SettleDuel settles both sides of a completed duel from their pre-duel
// records. moves is the duel's move log, used for damage totals.
func SettleDuel(d *domain.Duel, challenger, challenged domain.UserProgress, moves []domain.DuelMove, now time.Time) ([2]domain.UserProgress, [2]domain.SettlementResult) {
	damage := domain.DamageTotals(moves)
	cID, dID := d.Challenger.UserID, d.Challenged.UserID

	cOut, dOut := Draw, Draw
	if d.WinnerID != nil {
		cOut, dOut = Loss, Win
		if *d.WinnerID == cID {
			cOut, dOut = Win, Loss
		}
	}

	c, cRes := Settle(challenger, challenged, Participation{
		Outcome:     cOut,
		DamageDealt: damage[cID],
		DamageTaken: damage[dID],
	}, now)
	o, oRes := Settle(challenged, challenger, Participation{
		Outcome:     dOut,
		DamageDealt: damage[dID],
		DamageTaken: damage[cID],
	}, now)

	return [2]domain.UserProgress{c, o}, [2]domain.SettlementResult{cRes, oRes}
}

func sameDay(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	ly, lm, ld := last.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ly == ny && lm == nm && ld == nd
}
