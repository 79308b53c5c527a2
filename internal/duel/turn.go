package duel

import (
	"context"
	"errors"
	"fmt"

	"github.com/duelbot/internal/combat"
	"github.com/duelbot/internal/domain"
)

// MoveResult is the outcome of one submitted move.
type MoveResult struct {
	Duel        *domain.Duel
	Move        domain.DuelMove
	Description string
	// Settlement is set when the move ended the duel, challenger first.
	Settlement []domain.SettlementResult
}

// SubmitMove resolves a move by userID in their active turn duel. If the
// duel completes but settlement fails, the result is returned together
// with a *SettlementError.
func (m *Machine) SubmitMove(ctx context.Context, guildID, userID int64, kind domain.MoveKind) (*MoveResult, error) {
	current, err := m.store.ActiveDuelFor(ctx, guildID, userID)
	if errors.Is(err, domain.ErrDuelNotFound) {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotParticipant, err)
	}
	if err != nil {
		return nil, err
	}

	var (
		move domain.DuelMove
		desc string
	)
	d, err := m.mutate(ctx, current.ID, func(d *domain.Duel) (transition, error) {
		if d.Status != domain.DuelStatusActive || d.Mode != domain.DuelModeTurn {
			return transition{}, domain.ErrWrongState
		}

		self, opp := d.Side(userID)
		eff, err := combat.Resolve(*self, kind, m.src)
		if err != nil {
			return transition{}, err
		}

		selfHP, oppHP := self.HP, opp.HP
		damage := eff.Damage
		consumeGuard := false
		desc = eff.Description
		if damage > 0 && m.guarded(d.ID, opp.UserID) {
			damage = combat.Mitigate(damage, opp.Defense)
			consumeGuard = true
			desc = fmt.Sprintf("%s, guarded down to %d", eff.Description, damage)
		}
		oppHP = clampHP(oppHP-damage, opp.MaxHP)

		healed := 0
		if eff.Healing > 0 {
			next := clampHP(selfHP+eff.Healing, self.MaxHP)
			healed = next - selfHP
			selfHP = next
			desc = combat.DescribeHeal(healed)
		}

		now := m.now()
		move = domain.DuelMove{
			DuelID:    d.ID,
			UserID:    userID,
			Kind:      kind,
			Damage:    damage,
			Healing:   healed,
			CreatedAt: now,
		}

		patch := domain.DuelPatch{}
		cHP, dHP := selfHP, oppHP
		if userID != d.Challenger.UserID {
			cHP, dHP = oppHP, selfHP
		}
		patch.ChallengerHP = &cHP
		patch.ChallengedHP = &dHP

		finished := cHP <= 0 || dHP <= 0
		if finished {
			patch.Status = statusPtr(domain.DuelStatusCompleted)
			patch.EndedAt = &now
			patch.WinnerID = winner(d.Challenger.UserID, cHP, d.Challenged.UserID, dHP)
		}

		return transition{
			patch: patch,
			moves: []domain.DuelMove{move},
			onCommit: func(stored *domain.Duel) {
				if finished {
					m.clearGuards(stored.ID)
					return
				}
				if consumeGuard {
					m.setGuard(stored.ID, opp.UserID, false)
				}
				if eff.Defending {
					m.setGuard(stored.ID, userID, true)
				}
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	res := &MoveResult{Duel: d, Move: move, Description: desc}
	m.logger.Debug("move applied",
		"duel_id", d.ID,
		"user_id", userID,
		"kind", kind,
		"damage", move.Damage,
		"healing", move.Healing,
	)
	if d.Status != domain.DuelStatusCompleted {
		return res, nil
	}

	m.logger.Info("duel completed", "duel_id", d.ID, "guild_id", d.GuildID, "draw", d.IsDraw())
	res.Settlement, err = m.settle(ctx, d)
	if err != nil {
		return res, err
	}
	return res, nil
}

// winner returns the surviving side, or nil when both are down.
func winner(challengerID int64, challengerHP int, challengedID int64, challengedHP int) *int64 {
	switch {
	case challengerHP > 0 && challengedHP <= 0:
		return &challengerID
	case challengedHP > 0 && challengerHP <= 0:
		return &challengedID
	}
	return nil
}

func clampHP(hp, maxHP int) int {
	return min(max(hp, 0), maxHP)
}
