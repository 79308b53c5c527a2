// Package duel implements the duel lifecycle: challenge, accept, decline,
// cancel, moves, instant rounds, expiry and forced ends. Every mutation of
// a duel is serialized per duel inside the process and guarded by a
// version check in the store across processes.
package duel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duelbot/internal/combat"
	"github.com/duelbot/internal/cooldown"
	"github.com/duelbot/internal/domain"
)

const defaultMaxRetries = 3

// Store persists duels and their move logs.
type Store interface {
	// CreateDuel inserts d and assigns its ID. It fails with
	// domain.ErrDuelInProgress if either participant already holds a
	// non-terminal duel in the guild; the check and the insert are atomic.
	CreateDuel(ctx context.Context, d *domain.Duel) (*domain.Duel, error)
	GetDuel(ctx context.Context, id int64) (*domain.Duel, error)
	// ActiveDuelFor returns the user's non-terminal duel in the guild.
	ActiveDuelFor(ctx context.Context, guildID, userID int64) (*domain.Duel, error)
	// UpdateDuel applies patch and appends moves in one atomic write. It
	// fails with domain.ErrStaleDuel when the stored version no longer
	// matches patch.ExpectVersion.
	UpdateDuel(ctx context.Context, id int64, patch domain.DuelPatch, moves []domain.DuelMove) (*domain.Duel, error)
	ListMoves(ctx context.Context, duelID int64) ([]domain.DuelMove, error)
}

// Settler applies a completed duel to both participants' progression.
type Settler interface {
	SettleDuel(ctx context.Context, d *domain.Duel) ([2]domain.SettlementResult, error)
}

// LevelSource supplies a user's current level for instant duels.
type LevelSource interface {
	Level(ctx context.Context, key domain.UserKey) (int, error)
}

// SettlementError is returned when a duel completed but its progression
// update failed. The duel itself is already stored as completed; the
// caller can retry settlement, which is idempotent.
type SettlementError struct {
	Duel *domain.Duel
	Err  error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settling duel %d: %v", e.Duel.ID, e.Err)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Config holds the tunables of a Machine.
type Config struct {
	ChallengeCooldown time.Duration
	Turn              TurnPolicy
	Instant           InstantPolicy
	MaxRetries        int
}

// DefaultConfig returns the standard duel rules.
func DefaultConfig() Config {
	return Config{
		ChallengeCooldown: 5 * time.Minute,
		Turn:              DefaultTurnPolicy(),
		Instant:           DefaultInstantPolicy(),
		MaxRetries:        defaultMaxRetries,
	}
}

// Option configures optional collaborators of a Machine.
type Option func(*Machine)

// WithEligibility sets the target eligibility check.
func WithEligibility(e Eligibility) Option {
	return func(m *Machine) { m.eligibility = e }
}

// WithLevels sets where instant duels read participant levels from.
func WithLevels(l LevelSource) Option {
	return func(m *Machine) { m.levels = l }
}

// WithCooldowns sets the challenge cooldown tracker.
func WithCooldowns(t cooldown.Tracker) Option {
	return func(m *Machine) { m.cooldowns = t }
}

// WithSource sets the random source used for combat.
func WithSource(src combat.Source) Option {
	return func(m *Machine) { m.src = src }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine drives duels through their lifecycle.
type Machine struct {
	store       Store
	settler     Settler
	eligibility Eligibility
	levels      LevelSource
	cooldowns   cooldown.Tracker
	policies    map[domain.DuelMode]Policy
	src         combat.Source
	now         func() time.Time
	cfg         Config
	logger      *slog.Logger

	locks *keyedMutex

	// defending holds the transient guard flags per duel and user.
	defMu     sync.Mutex
	defending map[int64]map[int64]bool
}

// NewMachine creates a duel state machine. settler may be nil, in which
// case completed duels are not settled.
func NewMachine(store Store, settler Settler, cfg Config, logger *slog.Logger, opts ...Option) *Machine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Turn.HP <= 0 {
		cfg.Turn = DefaultTurnPolicy()
	}
	if cfg.Instant.HP <= 0 {
		cfg.Instant = DefaultInstantPolicy()
	}
	m := &Machine{
		store:   store,
		settler: settler,
		policies: map[domain.DuelMode]Policy{
			domain.DuelModeTurn:    cfg.Turn,
			domain.DuelModeInstant: cfg.Instant,
		},
		now:       time.Now,
		cfg:       cfg,
		logger:    logger,
		locks:     newKeyedMutex(),
		defending: make(map[int64]map[int64]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.src == nil {
		seed, err := combat.NewSeed()
		if err != nil {
			seed = time.Now().UnixNano()
		}
		m.src = combat.NewSource(seed)
	}
	return m
}

// transition is what a mutation wants written, plus bookkeeping to run
// only once the write succeeded.
type transition struct {
	patch    domain.DuelPatch
	moves    []domain.DuelMove
	onCommit func(d *domain.Duel)
}

// mutate loads the duel under its lock, lets fn validate it and compute a
// transition, and writes the transition with a version check. A stale
// write is retried from a fresh load.
func (m *Machine) mutate(ctx context.Context, duelID int64, fn func(d *domain.Duel) (transition, error)) (*domain.Duel, error) {
	unlock := m.locks.Lock(duelID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		d, err := m.store.GetDuel(ctx, duelID)
		if err != nil {
			return nil, err
		}

		tr, err := fn(d)
		if err != nil {
			return nil, err
		}
		tr.patch.ExpectVersion = d.Version

		updated, err := m.store.UpdateDuel(ctx, duelID, tr.patch, tr.moves)
		if errors.Is(err, domain.ErrStaleDuel) {
			lastErr = err
			m.logger.Debug("stale duel write, retrying", "duel_id", duelID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("updating duel %d: %w", duelID, err)
		}
		if tr.onCommit != nil {
			tr.onCommit(updated)
		}
		return updated, nil
	}
	return nil, lastErr
}

// Challenge creates a duel between challenger and challenged.
func (m *Machine) Challenge(ctx context.Context, guildID, challengerID, challengedID int64, mode domain.DuelMode) (*domain.Duel, error) {
	if challengerID == challengedID {
		return nil, fmt.Errorf("%w: cannot duel yourself", domain.ErrInvalidTarget)
	}
	policy, ok := m.policies[mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown duel mode %q", domain.ErrInvalidRequest, mode)
	}
	if m.eligibility != nil {
		ok, err := m.eligibility.Duelable(ctx, guildID, challengedID)
		if err != nil {
			return nil, fmt.Errorf("checking eligibility: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: user %d cannot be challenged", domain.ErrInvalidTarget, challengedID)
		}
	}

	// Busy participants are reported before the cooldown is consulted.
	// CreateDuel repeats the check atomically.
	for _, userID := range []int64{challengerID, challengedID} {
		if err := m.ensureFree(ctx, guildID, userID); err != nil {
			return nil, err
		}
	}

	cdKey := cooldown.ChallengeKey(guildID, challengerID)
	if m.cooldowns != nil && m.cfg.ChallengeCooldown > 0 {
		if err := m.cooldowns.Acquire(ctx, cdKey, m.cfg.ChallengeCooldown); err != nil {
			return nil, err
		}
	}

	now := m.now()
	d := &domain.Duel{
		GuildID:    guildID,
		Mode:       mode,
		Status:     policy.InitialStatus(),
		Challenger: policy.Combatant(challengerID),
		Challenged: policy.Combatant(challengedID),
		CreatedAt:  now,
	}
	if d.Status == domain.DuelStatusActive {
		d.StartedAt = &now
	}

	created, err := m.store.CreateDuel(ctx, d)
	if err != nil {
		if m.cooldowns != nil && m.cfg.ChallengeCooldown > 0 {
			if rerr := m.cooldowns.Release(ctx, cdKey); rerr != nil {
				m.logger.Warn("failed to release challenge cooldown", "key", cdKey, "error", rerr)
			}
		}
		return nil, err
	}

	m.logger.Info("duel created",
		"duel_id", created.ID,
		"guild_id", guildID,
		"challenger", challengerID,
		"challenged", challengedID,
		"mode", mode,
	)
	return created, nil
}

func (m *Machine) ensureFree(ctx context.Context, guildID, userID int64) error {
	_, err := m.store.ActiveDuelFor(ctx, guildID, userID)
	switch {
	case err == nil:
		return domain.ErrDuelInProgress
	case errors.Is(err, domain.ErrDuelNotFound):
		return nil
	default:
		return fmt.Errorf("checking open duels: %w", err)
	}
}

// Accept starts the pending duel the user was challenged to.
func (m *Machine) Accept(ctx context.Context, guildID, userID int64) (*domain.Duel, error) {
	current, err := m.store.ActiveDuelFor(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	d, err := m.mutate(ctx, current.ID, func(d *domain.Duel) (transition, error) {
		if d.Challenged.UserID != userID {
			return transition{}, domain.ErrNotChallenged
		}
		if d.Status != domain.DuelStatusPending {
			return transition{}, domain.ErrWrongState
		}
		now := m.now()
		return transition{patch: domain.DuelPatch{
			Status:    statusPtr(domain.DuelStatusActive),
			StartedAt: &now,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("duel accepted", "duel_id", d.ID, "guild_id", guildID)
	return d, nil
}

// Decline refuses the pending duel the user was challenged to.
func (m *Machine) Decline(ctx context.Context, guildID, userID int64) (*domain.Duel, error) {
	return m.closePending(ctx, guildID, userID, func(d *domain.Duel) error {
		if d.Challenged.UserID != userID {
			return domain.ErrNotChallenged
		}
		return nil
	}, "duel declined")
}

// Cancel withdraws the pending duel the user issued.
func (m *Machine) Cancel(ctx context.Context, guildID, userID int64) (*domain.Duel, error) {
	return m.closePending(ctx, guildID, userID, func(d *domain.Duel) error {
		if d.Challenger.UserID != userID {
			return domain.ErrNotChallenger
		}
		return nil
	}, "duel cancelled")
}

func (m *Machine) closePending(ctx context.Context, guildID, userID int64, actor func(d *domain.Duel) error, msg string) (*domain.Duel, error) {
	current, err := m.store.ActiveDuelFor(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	d, err := m.mutate(ctx, current.ID, func(d *domain.Duel) (transition, error) {
		if err := actor(d); err != nil {
			return transition{}, err
		}
		if d.Status != domain.DuelStatusPending {
			return transition{}, domain.ErrWrongState
		}
		now := m.now()
		return transition{patch: domain.DuelPatch{
			Status:  statusPtr(domain.DuelStatusCancelled),
			EndedAt: &now,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info(msg, "duel_id", d.ID, "guild_id", guildID, "user_id", userID)
	return d, nil
}

// Expire times out a pending or active duel. Callers schedule this.
func (m *Machine) Expire(ctx context.Context, duelID int64) (*domain.Duel, error) {
	d, err := m.mutate(ctx, duelID, func(d *domain.Duel) (transition, error) {
		if d.Status != domain.DuelStatusPending && d.Status != domain.DuelStatusActive {
			return transition{}, domain.ErrWrongState
		}
		now := m.now()
		return transition{
			patch: domain.DuelPatch{
				Status:  statusPtr(domain.DuelStatusTimeout),
				EndedAt: &now,
			},
			onCommit: func(d *domain.Duel) { m.clearGuards(d.ID) },
		}, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("duel expired", "duel_id", d.ID, "guild_id", d.GuildID)
	return d, nil
}

// ForceEnd stops an active duel without a result. No progression is
// applied.
func (m *Machine) ForceEnd(ctx context.Context, duelID int64) (*domain.Duel, error) {
	d, err := m.mutate(ctx, duelID, func(d *domain.Duel) (transition, error) {
		if d.Status != domain.DuelStatusActive {
			return transition{}, domain.ErrWrongState
		}
		now := m.now()
		return transition{
			patch: domain.DuelPatch{
				Status:  statusPtr(domain.DuelStatusCancelled),
				EndedAt: &now,
			},
			onCommit: func(d *domain.Duel) { m.clearGuards(d.ID) },
		}, nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Warn("duel force-ended", "duel_id", d.ID, "guild_id", d.GuildID)
	return d, nil
}

// Current returns the user's non-terminal duel in the guild.
func (m *Machine) Current(ctx context.Context, guildID, userID int64) (*domain.Duel, error) {
	return m.store.ActiveDuelFor(ctx, guildID, userID)
}

// settle hands a completed duel to the settler. A failure is wrapped in
// a SettlementError carrying the stored duel.
func (m *Machine) settle(ctx context.Context, d *domain.Duel) ([]domain.SettlementResult, error) {
	if m.settler == nil {
		return nil, nil
	}
	results, err := m.settler.SettleDuel(ctx, d)
	if err != nil {
		m.logger.Error("duel settlement failed", "duel_id", d.ID, "error", err)
		return nil, &SettlementError{Duel: d, Err: err}
	}
	return results[:], nil
}

func (m *Machine) setGuard(duelID, userID int64, on bool) {
	m.defMu.Lock()
	defer m.defMu.Unlock()
	users, ok := m.defending[duelID]
	if !ok {
		if !on {
			return
		}
		users = make(map[int64]bool, 2)
		m.defending[duelID] = users
	}
	if on {
		users[userID] = true
	} else {
		delete(users, userID)
	}
}

func (m *Machine) guarded(duelID, userID int64) bool {
	m.defMu.Lock()
	defer m.defMu.Unlock()
	return m.defending[duelID][userID]
}

func (m *Machine) clearGuards(duelID int64) {
	m.defMu.Lock()
	delete(m.defending, duelID)
	m.defMu.Unlock()
}

func statusPtr(s domain.DuelStatus) *domain.DuelStatus {
	return &s
}
