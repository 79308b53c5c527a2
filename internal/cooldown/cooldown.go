// Package cooldown tracks per-key rate limits such as the challenge
// cooldown. A Tracker is built once per process and passed to whoever
// needs it.
package cooldown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duelbot/internal/domain"
)

// Tracker reserves a key for a duration.
type Tracker interface {
	// Acquire starts a cooldown for key. If one is already running it
	// returns a *domain.CooldownError carrying the time left.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	// Release ends the cooldown for key early.
	Release(ctx context.Context, key string) error
	// Remaining reports the time left on key, zero when it is free.
	Remaining(ctx context.Context, key string) (time.Duration, error)
}

// ChallengeKey is the cooldown key for a user issuing challenges in a guild.
func ChallengeKey(guildID, userID int64) string {
	return fmt.Sprintf("cooldown:challenge:%d:%d", guildID, userID)
}

// Memory is an in-process Tracker.
type Memory struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an in-process tracker. A nil clock uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		expires: make(map[string]time.Time),
		now:     now,
	}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.expires[key]; ok && now.Before(until) {
		return &domain.CooldownError{Remaining: until.Sub(now)}
	}
	m.expires[key] = now.Add(ttl)
	return nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.expires, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remaining(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.expires[key]
	if !ok {
		return 0, nil
	}
	left := until.Sub(m.now())
	if left <= 0 {
		delete(m.expires, key)
		return 0, nil
	}
	return left, nil
}

// Sweep drops expired keys and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, until := range m.expires {
		if !now.Before(until) {
			delete(m.expires, k)
			removed++
		}
	}
	return removed
}
