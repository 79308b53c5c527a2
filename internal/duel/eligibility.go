package duel

import (
	"context"
	"sync"
)

// Eligibility answers whether a user can be challenged. Presence tracking
// belongs to the caller.
type Eligibility interface {
	Duelable(ctx context.Context, guildID, userID int64) (bool, error)
}

// Member is what the caller knows about a guild member.
type Member struct {
	Bot    bool
	Online bool
}

// MemberSnapshot is an Eligibility backed by a caller-maintained view of
// guild membership. Unknown members are not duelable.
type MemberSnapshot struct {
	mu      sync.RWMutex
	members map[int64]map[int64]Member
}

// NewMemberSnapshot creates an empty snapshot.
func NewMemberSnapshot() *MemberSnapshot {
	return &MemberSnapshot{members: make(map[int64]map[int64]Member)}
}

// Put records or replaces a member.
func (s *MemberSnapshot) Put(guildID, userID int64, m Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild, ok := s.members[guildID]
	if !ok {
		guild = make(map[int64]Member)
		s.members[guildID] = guild
	}
	guild[userID] = m
}

// Remove forgets a member.
func (s *MemberSnapshot) Remove(guildID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[guildID], userID)
}

func (s *MemberSnapshot) Duelable(_ context.Context, guildID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[guildID][userID]
	if !ok {
		return false, nil
	}
	return !m.Bot && m.Online, nil
}
