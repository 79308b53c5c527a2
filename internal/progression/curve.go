// Package progression holds the experience and leveling arithmetic. Every
// function here is pure.
package progression

import "sort"

const (
	// MinLevel is the level of a fresh record.
	MinLevel = 1
	// MaxLevel caps the curve regardless of experience.
	MaxLevel = 99
)

// RequiredXP returns the total experience needed to reach level.
func RequiredXP(level int) int64 {
	if level <= MinLevel {
		return 0
	}
	l := int64(level)
	return l*l*l*10 + l*100
}

// LevelFromExperience returns the largest level in [MinLevel, MaxLevel]
// whose requirement is met by xp.
func LevelFromExperience(xp int64) int {
	if xp <= 0 {
		return MinLevel
	}
	// first level whose requirement exceeds xp, minus one
	n := sort.Search(MaxLevel, func(i int) bool {
		return RequiredXP(i+1) > xp
	})
	if n < MinLevel {
		return MinLevel
	}
	return n
}

// Progress describes how far a record is into its current level.
type Progress struct {
	IntoLevel int64
	ForNext   int64
	Percent   float64
}

// ProgressOf reports progress within level for a record holding xp.
// At MaxLevel there is nothing left to earn.
func ProgressOf(level int, xp int64) Progress {
	if level >= MaxLevel {
		return Progress{Percent: 100}
	}
	if level < MinLevel {
		level = MinLevel
	}
	current := RequiredXP(level)
	span := RequiredXP(level+1) - current
	into := xp - current
	if into < 0 {
		into = 0
	}
	needed := span - into
	if needed < 0 {
		needed = 0
	}
	percent := float64(into) / float64(span) * 100
	if percent > 100 {
		percent = 100
	}
	return Progress{IntoLevel: into, ForNext: needed, Percent: percent}
}
