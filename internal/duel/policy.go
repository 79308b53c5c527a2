package duel

import (
	"github.com/duelbot/internal/domain"
)

// Default combat attributes for a fresh combatant.
const (
	DefaultHP        = 100
	DefaultInstantHP = 250
	DefaultAttack    = 10
	DefaultDefense   = 5
)

// Policy decides how a duel of one mode starts. Move resolution for the
// mode lives on the Machine (SubmitMove for turn duels, RunInstant for
// instant duels).
type Policy interface {
	Mode() domain.DuelMode
	// InitialStatus is the status a freshly created duel starts in.
	InitialStatus() domain.DuelStatus
	// Combatant builds the duel-scoped attributes for a participant.
	Combatant(userID int64) domain.Combatant
}

// TurnPolicy is the challenge/accept mode with per-user move submission.
type TurnPolicy struct {
	HP      int
	Attack  int
	Defense int
}

// DefaultTurnPolicy returns the standard turn-mode attributes.
func DefaultTurnPolicy() TurnPolicy {
	return TurnPolicy{HP: DefaultHP, Attack: DefaultAttack, Defense: DefaultDefense}
}

func (p TurnPolicy) Mode() domain.DuelMode { return domain.DuelModeTurn }

func (p TurnPolicy) InitialStatus() domain.DuelStatus { return domain.DuelStatusPending }

func (p TurnPolicy) Combatant(userID int64) domain.Combatant {
	return domain.Combatant{
		UserID:  userID,
		HP:      p.HP,
		MaxHP:   p.HP,
		Attack:  p.Attack,
		Defense: p.Defense,
	}
}

// InstantPolicy skips the handshake. Rounds are played automatically and
// damage depends on level, not on attack power.
type InstantPolicy struct {
	HP int
}

// DefaultInstantPolicy returns the standard instant-mode attributes.
func DefaultInstantPolicy() InstantPolicy {
	return InstantPolicy{HP: DefaultInstantHP}
}

func (p InstantPolicy) Mode() domain.DuelMode { return domain.DuelModeInstant }

func (p InstantPolicy) InitialStatus() domain.DuelStatus { return domain.DuelStatusActive }

func (p InstantPolicy) Combatant(userID int64) domain.Combatant {
	return domain.Combatant{
		UserID:  userID,
		HP:      p.HP,
		MaxHP:   p.HP,
		Attack:  DefaultAttack,
		Defense: DefaultDefense,
	}
}
