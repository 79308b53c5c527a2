package domain

import "time"

// UserKey identifies a progression record
type UserKey struct {
	UserID  int64 `json:"user_id"`
	GuildID int64 `json:"guild_id"`
}

// UserProgress is a user's persistent progression record within a guild
type UserProgress struct {
	UserID           int64      `json:"user_id"`
	GuildID          int64      `json:"guild_id"`
	Level            int        `json:"level"`
	Experience       int64      `json:"experience"`
	Wins             int        `json:"wins"`
	Losses           int        `json:"losses"`
	Draws            int        `json:"draws"`
	WinStreak        int        `json:"win_streak"`
	BestWinStreak    int        `json:"best_win_streak"`
	TotalDamageDealt int64      `json:"total_damage_dealt"`
	TotalDamageTaken int64      `json:"total_damage_taken"`
	DuelsPlayed      int        `json:"duels_played"`
	DuelsToday       int        `json:"duels_today"`
	LastDuelAt       *time.Time `json:"last_duel_at,omitempty"`
	IsOutlaw         bool       `json:"is_outlaw"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewUserProgress returns the default record created on first interaction
func NewUserProgress(key UserKey, now time.Time) UserProgress {
	return UserProgress{
		UserID:    key.UserID,
		GuildID:   key.GuildID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WinRate returns the win percentage over all duels played
func (u *UserProgress) WinRate() float64 {
	if u.DuelsPlayed == 0 {
		return 0
	}
	return float64(u.Wins) / float64(u.DuelsPlayed) * 100
}

// SettlementResult is what one participant gets out of a finished duel
type SettlementResult struct {
	UserID     int64 `json:"user_id"`
	XPGained   int64 `json:"xp_gained"`
	LeveledUp  bool  `json:"leveled_up"`
	NewLevel   int   `json:"new_level"`
	DuelsToday int   `json:"duels_today"`
	IsOutlaw   bool  `json:"is_outlaw"`
}

// Profile combines a progression record with its level progress
type Profile struct {
	Progress      UserProgress `json:"progress"`
	XPIntoLevel   int64        `json:"xp_into_level"`
	XPForNext     int64        `json:"xp_for_next"`
	PercentToNext float64      `json:"percent_to_next"`
	WinRate       float64      `json:"win_rate"`
	// Rank is the guild leaderboard position, zero before the first duel.
	Rank int64 `json:"rank,omitempty"`
}

// SettleFunc computes both participants' new records from their pre-duel
// snapshots, challenger first. Stores call it inside the settlement
// transaction.
type SettleFunc func(d *Duel, challenger, challenged UserProgress, moves []DuelMove) ([2]UserProgress, error)
