package duel

import (
	"context"
	"fmt"

	"github.com/duelbot/internal/combat"
	"github.com/duelbot/internal/domain"
)

// Round is one simultaneous exchange of an instant duel.
type Round struct {
	Number           int `json:"number"`
	ChallengerDamage int `json:"challenger_damage"`
	ChallengedDamage int `json:"challenged_damage"`
	ChallengerHP     int `json:"challenger_hp"`
	ChallengedHP     int `json:"challenged_hp"`
}

// InstantResult is the full playback of an instant duel. Pacing the
// rounds for display is up to the caller.
type InstantResult struct {
	Duel       *domain.Duel
	Rounds     []Round
	Settlement []domain.SettlementResult
}

// RunInstant plays an active instant duel to the end in one write. Both
// sides hit each round until at least one is down.
func (m *Machine) RunInstant(ctx context.Context, duelID int64) (*InstantResult, error) {
	current, err := m.store.GetDuel(ctx, duelID)
	if err != nil {
		return nil, err
	}
	cLevel, err := m.levelOf(ctx, current.GuildID, current.Challenger.UserID)
	if err != nil {
		return nil, err
	}
	dLevel, err := m.levelOf(ctx, current.GuildID, current.Challenged.UserID)
	if err != nil {
		return nil, err
	}

	var rounds []Round
	d, err := m.mutate(ctx, duelID, func(d *domain.Duel) (transition, error) {
		if d.Mode != domain.DuelModeInstant || d.Status != domain.DuelStatusActive {
			return transition{}, domain.ErrWrongState
		}

		now := m.now()
		rounds = rounds[:0]
		var moves []domain.DuelMove
		cHP, dHP := d.Challenger.HP, d.Challenged.HP
		for n := 1; cHP > 0 && dHP > 0; n++ {
			byC, byD := combat.InstantRound(cLevel, dLevel, m.src)
			cHP = max(cHP-byD, 0)
			dHP = max(dHP-byC, 0)
			rounds = append(rounds, Round{
				Number:           n,
				ChallengerDamage: byC,
				ChallengedDamage: byD,
				ChallengerHP:     cHP,
				ChallengedHP:     dHP,
			})
			moves = append(moves,
				domain.DuelMove{DuelID: d.ID, UserID: d.Challenger.UserID, Kind: domain.MoveAttack, Damage: byC, CreatedAt: now},
				domain.DuelMove{DuelID: d.ID, UserID: d.Challenged.UserID, Kind: domain.MoveAttack, Damage: byD, CreatedAt: now},
			)
		}

		return transition{
			patch: domain.DuelPatch{
				Status:       statusPtr(domain.DuelStatusCompleted),
				ChallengerHP: &cHP,
				ChallengedHP: &dHP,
				WinnerID:     winner(d.Challenger.UserID, cHP, d.Challenged.UserID, dHP),
				EndedAt:      &now,
			},
			moves: moves,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("instant duel completed",
		"duel_id", d.ID,
		"guild_id", d.GuildID,
		"rounds", len(rounds),
		"draw", d.IsDraw(),
	)

	res := &InstantResult{Duel: d, Rounds: rounds}
	res.Settlement, err = m.settle(ctx, d)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (m *Machine) levelOf(ctx context.Context, guildID, userID int64) (int, error) {
	if m.levels == nil {
		return 1, nil
	}
	level, err := m.levels.Level(ctx, domain.UserKey{UserID: userID, GuildID: guildID})
	if err != nil {
		return 0, fmt.Errorf("loading level for user %d: %w", userID, err)
	}
	return max(level, 1), nil
}
