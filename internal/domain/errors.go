package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors
var (
	ErrNotFound       = errors.New("not found")
	ErrDuelNotFound   = fmt.Errorf("duel %w", ErrNotFound)
	ErrUserNotFound   = fmt.Errorf("user %w", ErrNotFound)
	ErrInvalidTarget  = errors.New("invalid duel target")
	ErrDuelInProgress = errors.New("participant already has a duel in progress")
	ErrNotChallenged  = errors.New("only the challenged user can do that")
	ErrNotChallenger  = errors.New("only the challenger can do that")
	ErrNotParticipant = errors.New("user is not part of this duel")
	ErrWrongState     = errors.New("duel is not in a state that allows this")
	ErrInvalidMove    = errors.New("invalid move")
	ErrInvalidAmount  = errors.New("experience amount must be between 0 and 1000")
	ErrStaleDuel      = errors.New("duel was modified concurrently")
	ErrAlreadySettled = errors.New("duel already settled")
	ErrOnCooldown     = errors.New("on cooldown")
	ErrInvalidRequest = errors.New("invalid request")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CooldownError reports how long a caller still has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("on cooldown for another %s", e.Remaining.Round(time.Second))
}

// Unwrap lets errors.Is(err, ErrOnCooldown) match.
func (e *CooldownError) Unwrap() error {
	return ErrOnCooldown
}
