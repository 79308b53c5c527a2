package domain

import (
	"time"
)

// Ranking score layout: wins, then win streak, then level.
const (
	rankWinsWeight   = 1_000_000
	rankStreakWeight = 1_000
	rankStreakCap    = 999
)

// LeaderboardEntry represents a single entry in a guild leaderboard
type LeaderboardEntry struct {
	Rank      int64 `json:"rank"`
	UserID    int64 `json:"user_id"`
	Wins      int   `json:"wins"`
	WinStreak int   `json:"win_streak"`
	Level     int   `json:"level"`
}

// RankScore packs the leaderboard ordering (wins desc, streak desc, level
// desc) into one sortable number.
func RankScore(wins, winStreak, level int) int64 {
	streak := winStreak
	if streak > rankStreakCap {
		streak = rankStreakCap
	}
	return int64(wins)*rankWinsWeight + int64(streak)*rankStreakWeight + int64(level)
}

// EntryFromScore unpacks a RankScore
func EntryFromScore(rank, userID, score int64) LeaderboardEntry {
	return LeaderboardEntry{
		Rank:      rank,
		UserID:    userID,
		Wins:      int(score / rankWinsWeight),
		WinStreak: int(score % rankWinsWeight / rankStreakWeight),
		Level:     int(score % rankStreakWeight),
	}
}

// DuelOutcomeEvent is published for each participant after a duel settles
type DuelOutcomeEvent struct {
	EventID   string    `json:"event_id"`
	DuelID    int64     `json:"duel_id"`
	GuildID   int64     `json:"guild_id"`
	UserID    int64     `json:"user_id"`
	Outcome   string    `json:"outcome"`
	XPGained  int64     `json:"xp_gained"`
	Level     int       `json:"level"`
	Wins      int       `json:"wins"`
	WinStreak int       `json:"win_streak"`
	IsOutlaw  bool      `json:"is_outlaw"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome labels
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeDraw = "draw"
)

// RankScore returns the leaderboard score carried by the event
func (e DuelOutcomeEvent) RankScore() int64 {
	return RankScore(e.Wins, e.WinStreak, e.Level)
}
