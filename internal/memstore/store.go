// Package memstore is an in-process store for duels and progression. It
// backs tests and the simulator, and serves as the storage driver when no
// database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/duelbot/internal/domain"
)

// Store keeps all state in maps guarded by one mutex, so every method is
// atomic with respect to every other.
type Store struct {
	mu         sync.Mutex
	duels      map[int64]*domain.Duel
	moves      map[int64][]domain.DuelMove
	progress   map[domain.UserKey]*domain.UserProgress
	nextDuelID int64
	nextMoveID int64
	now        func() time.Time
}

// New creates an empty store. A nil clock uses time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		duels:    make(map[int64]*domain.Duel),
		moves:    make(map[int64][]domain.DuelMove),
		progress: make(map[domain.UserKey]*domain.UserProgress),
		now:      now,
	}
}

// CreateDuel inserts d unless either participant already has a
// non-terminal duel in the guild.
func (s *Store) CreateDuel(_ context.Context, d *domain.Duel) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.duels {
		if existing.GuildID != d.GuildID || existing.Status.Terminal() {
			continue
		}
		if existing.IsParticipant(d.Challenger.UserID) || existing.IsParticipant(d.Challenged.UserID) {
			return nil, domain.ErrDuelInProgress
		}
	}

	s.nextDuelID++
	stored := copyDuel(d)
	stored.ID = s.nextDuelID
	stored.Version = 1
	s.duels[stored.ID] = stored
	return copyDuel(stored), nil
}

func (s *Store) GetDuel(_ context.Context, id int64) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[id]
	if !ok {
		return nil, domain.ErrDuelNotFound
	}
	return copyDuel(d), nil
}

func (s *Store) ActiveDuelFor(_ context.Context, guildID, userID int64) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.duels {
		if d.GuildID == guildID && !d.Status.Terminal() && d.IsParticipant(userID) {
			return copyDuel(d), nil
		}
	}
	return nil, domain.ErrDuelNotFound
}

func (s *Store) UpdateDuel(_ context.Context, id int64, patch domain.DuelPatch, moves []domain.DuelMove) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[id]
	if !ok {
		return nil, domain.ErrDuelNotFound
	}
	if d.Version != patch.ExpectVersion {
		return nil, domain.ErrStaleDuel
	}
	if d.Status.Terminal() {
		return nil, domain.ErrWrongState
	}

	patch.Apply(d)
	for _, m := range moves {
		s.nextMoveID++
		m.ID = s.nextMoveID
		m.DuelID = id
		s.moves[id] = append(s.moves[id], m)
	}
	return copyDuel(d), nil
}

func (s *Store) ListMoves(_ context.Context, duelID int64) ([]domain.DuelMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.duels[duelID]; !ok {
		return nil, domain.ErrDuelNotFound
	}
	return append([]domain.DuelMove(nil), s.moves[duelID]...), nil
}

// StalePending returns ids of pending duels created before cutoff, oldest
// first.
func (s *Store) StalePending(_ context.Context, cutoff time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*domain.Duel
	for _, d := range s.duels {
		if d.Status == domain.DuelStatusPending && d.CreatedAt.Before(cutoff) {
			stale = append(stale, d)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]int64, len(stale))
	for i, d := range stale {
		ids[i] = d.ID
	}
	return ids, nil
}

func (s *Store) GetProgress(_ context.Context, key domain.UserKey) (*domain.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.progress[key]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyProgress(p), nil
}

func (s *Store) GetOrCreateProgress(_ context.Context, key domain.UserKey) (*domain.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyProgress(s.loadOrCreate(key)), nil
}

// UpdateProgress runs fn on the user's record and saves the result. The
// record is created first if missing.
func (s *Store) UpdateProgress(_ context.Context, key domain.UserKey, fn func(p *domain.UserProgress) error) (*domain.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := copyProgress(s.loadOrCreate(key))
	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = s.now()
	s.progress[key] = working
	return copyProgress(working), nil
}

// SettleDuel applies fn to a completed, unsettled duel and marks it
// settled. Both records are written or neither is.
func (s *Store) SettleDuel(_ context.Context, duelID int64, settledAt time.Time, fn domain.SettleFunc) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[duelID]
	if !ok {
		return nil, domain.ErrDuelNotFound
	}
	if d.SettledAt != nil {
		return nil, domain.ErrAlreadySettled
	}
	if d.Status != domain.DuelStatusCompleted {
		return nil, domain.ErrWrongState
	}

	cKey := domain.UserKey{UserID: d.Challenger.UserID, GuildID: d.GuildID}
	dKey := domain.UserKey{UserID: d.Challenged.UserID, GuildID: d.GuildID}
	challenger := *copyProgress(s.loadOrCreate(cKey))
	challenged := *copyProgress(s.loadOrCreate(dKey))
	moves := append([]domain.DuelMove(nil), s.moves[duelID]...)

	next, err := fn(copyDuel(d), challenger, challenged, moves)
	if err != nil {
		return nil, fmt.Errorf("computing settlement: %w", err)
	}

	s.progress[cKey] = copyProgress(&next[0])
	s.progress[dKey] = copyProgress(&next[1])
	at := settledAt
	d.SettledAt = &at
	return copyDuel(d), nil
}

// TopProgress returns the guild's ranked records: users with at least one
// duel, by wins, then win streak, then level.
func (s *Store) TopProgress(_ context.Context, guildID int64, limit int) ([]domain.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.UserProgress
	for _, p := range s.progress {
		if p.GuildID == guildID && p.DuelsPlayed > 0 {
			rows = append(rows, *copyProgress(p))
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.WinStreak != b.WinStreak {
			return a.WinStreak > b.WinStreak
		}
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		return a.UserID < b.UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// ListGuilds returns every guild with at least one progression record.
func (s *Store) ListGuilds(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{})
	for key := range s.progress {
		seen[key.GuildID] = struct{}{}
	}
	guilds := make([]int64, 0, len(seen))
	for g := range seen {
		guilds = append(guilds, g)
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i] < guilds[j] })
	return guilds, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) loadOrCreate(key domain.UserKey) *domain.UserProgress {
	p, ok := s.progress[key]
	if !ok {
		fresh := domain.NewUserProgress(key, s.now())
		p = &fresh
		s.progress[key] = p
	}
	return p
}

func copyDuel(d *domain.Duel) *domain.Duel {
	c := *d
	c.WinnerID = copyPtr(d.WinnerID)
	c.StartedAt = copyPtr(d.StartedAt)
	c.EndedAt = copyPtr(d.EndedAt)
	c.SettledAt = copyPtr(d.SettledAt)
	return &c
}

func copyProgress(p *domain.UserProgress) *domain.UserProgress {
	c := *p
	c.LastDuelAt = copyPtr(p.LastDuelAt)
	return &c
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
