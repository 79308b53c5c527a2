package domain

import (
	"fmt"
	"strings"
	"time"
)

// DuelStatus represents where a duel is in its lifecycle
type DuelStatus string

const (
	DuelStatusPending   DuelStatus = "pending"
	DuelStatusActive    DuelStatus = "active"
	DuelStatusCompleted DuelStatus = "completed"
	DuelStatusCancelled DuelStatus = "cancelled"
	DuelStatusTimeout   DuelStatus = "timeout"
)

// Terminal reports whether no further transition can leave this status.
func (s DuelStatus) Terminal() bool {
	switch s {
	case DuelStatusCompleted, DuelStatusCancelled, DuelStatusTimeout:
		return true
	}
	return false
}

// DuelMode selects how moves are resolved
type DuelMode string

const (
	// DuelModeTurn is the challenge/accept duel where participants submit moves.
	DuelModeTurn DuelMode = "turn"
	// DuelModeInstant skips the handshake and plays automatic rounds.
	DuelModeInstant DuelMode = "instant"
)

// MoveKind is a combat action in a turn duel
type MoveKind string

const (
	MoveAttack  MoveKind = "attack"
	MoveDefend  MoveKind = "defend"
	MoveHeal    MoveKind = "heal"
	MoveSpecial MoveKind = "special"
)

// ParseMoveKind converts user input into a MoveKind
func ParseMoveKind(s string) (MoveKind, error) {
	switch kind := MoveKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case MoveAttack, MoveDefend, MoveHeal, MoveSpecial:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMove, s)
}

// Combatant holds one side's duel-scoped attributes
type Combatant struct {
	UserID  int64 `json:"user_id"`
	HP      int   `json:"hp"`
	MaxHP   int   `json:"max_hp"`
	Attack  int   `json:"attack"`
	Defense int   `json:"defense"`
}

// Duel represents a duel between two users of a guild
type Duel struct {
	ID         int64      `json:"id"`
	GuildID    int64      `json:"guild_id"`
	Mode       DuelMode   `json:"mode"`
	Status     DuelStatus `json:"status"`
	Challenger Combatant  `json:"challenger"`
	Challenged Combatant  `json:"challenged"`
	WinnerID   *int64     `json:"winner_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	SettledAt  *time.Time `json:"settled_at,omitempty"`
	Version    int64      `json:"version"`
}

// IsParticipant reports whether userID is one of the two sides
func (d *Duel) IsParticipant(userID int64) bool {
	return userID == d.Challenger.UserID || userID == d.Challenged.UserID
}

// Side returns the combatant for userID and its opponent.
func (d *Duel) Side(userID int64) (self, opponent *Combatant) {
	if userID == d.Challenger.UserID {
		return &d.Challenger, &d.Challenged
	}
	return &d.Challenged, &d.Challenger
}

// IsDraw reports a completed duel without a winner
func (d *Duel) IsDraw() bool {
	return d.Status == DuelStatusCompleted && d.WinnerID == nil
}

// DuelMove is an append-only log entry of one action
type DuelMove struct {
	ID        int64     `json:"id"`
	DuelID    int64     `json:"duel_id"`
	UserID    int64     `json:"user_id"`
	Kind      MoveKind  `json:"kind"`
	Damage    int       `json:"damage"`
	Healing   int       `json:"healing"`
	CreatedAt time.Time `json:"created_at"`
}

// DuelPatch names exactly the duel fields a transition writes. Nil fields
// are left untouched. ExpectVersion guards against concurrent writers.
type DuelPatch struct {
	ExpectVersion int64
	Status        *DuelStatus
	ChallengerHP  *int
	ChallengedHP  *int
	WinnerID      *int64
	StartedAt     *time.Time
	EndedAt       *time.Time
}

// Apply writes the patch onto d and bumps its version.
func (p DuelPatch) Apply(d *Duel) {
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.ChallengerHP != nil {
		d.Challenger.HP = *p.ChallengerHP
	}
	if p.ChallengedHP != nil {
		d.Challenged.HP = *p.ChallengedHP
	}
	if p.WinnerID != nil {
		w := *p.WinnerID
		d.WinnerID = &w
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		d.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		d.EndedAt = &t
	}
	d.Version++
}

// DamageTotals sums damage dealt per user from a move log.
func DamageTotals(moves []DuelMove) map[int64]int {
	totals := make(map[int64]int, 2)
	for _, m := range moves {
		totals[m.UserID] += m.Damage
	}
	return totals
}
