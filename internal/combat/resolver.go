// Package combat computes the effect of a single duel action. It has no
// state of its own; all randomness comes from the Source passed in.
package combat

import (
	"fmt"

	"github.com/duelbot/internal/domain"
)

const (
	attackSpreadMin = -2
	attackSpreadMax = 3
	healMin         = 5
	healMax         = 15
	specialHitRate  = 0.7
	specialBonusMax = 5
	instantRollMax  = 100
)

// Effect is the outcome of one move before it is applied to the duel.
type Effect struct {
	Damage      int
	Healing     int
	Defending   bool
	Missed      bool
	Description string
}

// Resolve computes the effect of kind performed by attacker.
func Resolve(attacker domain.Combatant, kind domain.MoveKind, src Source) (Effect, error) {
	switch kind {
	case domain.MoveAttack:
		dmg := max(1, attacker.Attack+uniformInt(src, attackSpreadMin, attackSpreadMax))
		return Effect{
			Damage:      dmg,
			Description: fmt.Sprintf("attacks for %d damage", dmg),
		}, nil

	case domain.MoveDefend:
		return Effect{
			Defending:   true,
			Description: "raises their guard against the next hit",
		}, nil

	case domain.MoveHeal:
		heal := uniformInt(src, healMin, healMax)
		return Effect{
			Healing:     heal,
			Description: DescribeHeal(heal),
		}, nil

	case domain.MoveSpecial:
		if src.Float64() >= specialHitRate {
			return Effect{
				Missed:      true,
				Description: "special attack missed",
			}, nil
		}
		dmg := attacker.Attack*2 + uniformInt(src, 0, specialBonusMax)
		return Effect{
			Damage:      dmg,
			Description: fmt.Sprintf("lands a special attack for %d damage", dmg),
		}, nil
	}
	return Effect{}, fmt.Errorf("%w: %q", domain.ErrInvalidMove, kind)
}

// Mitigate reduces damage for a defending target. It never drops a
// landed hit below 1.
func Mitigate(damage, defense int) int {
	if damage <= 0 {
		return damage
	}
	return max(1, damage-defense)
}

// InstantDamage is one side's hit in an instant-duel round.
func InstantDamage(attackerLevel int, src Source) int {
	return uniformInt(src, 0, instantRollMax) + attackerLevel
}

// InstantRound rolls both sides' hits for one simultaneous round.
func InstantRound(challengerLevel, challengedLevel int, src Source) (byChallenger, byChallenged int) {
	byChallenger = InstantDamage(challengerLevel, src)
	byChallenged = InstantDamage(challengedLevel, src)
	return byChallenger, byChallenged
}

// DescribeHeal reports the HP actually restored.
func DescribeHeal(amount int) string {
	if amount == 0 {
		return "is already at full health"
	}
	return fmt.Sprintf("heals for %d HP", amount)
}
