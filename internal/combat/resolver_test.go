package combat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duelbot/internal/domain"
)

func fighter(attack int) domain.Combatant {
	return domain.Combatant{UserID: 1, HP: 100, MaxHP: 100, Attack: attack, Defense: 5}
}

func TestResolve_AttackAlwaysAtLeastOne(t *testing.T) {
	src := NewSource(42)
	for _, atk := range []int{0, 1, 2, 10, 40} {
		for i := 0; i < 500; i++ {
			eff, err := Resolve(fighter(atk), domain.MoveAttack, src)
			require.NoError(t, err)
			require.GreaterOrEqual(t, eff.Damage, 1)
			require.LessOrEqual(t, eff.Damage, max(1, atk+3))
			require.Zero(t, eff.Healing)
		}
	}
}

func TestResolve_AttackSpread(t *testing.T) {
	low, err := Resolve(fighter(10), domain.MoveAttack, &Sequence{Ints: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, 8, low.Damage)

	high, err := Resolve(fighter(10), domain.MoveAttack, &Sequence{Ints: []int{5}})
	require.NoError(t, err)
	assert.Equal(t, 13, high.Damage)
}

func TestResolve_Defend(t *testing.T) {
	eff, err := Resolve(fighter(10), domain.MoveDefend, NewSource(1))
	require.NoError(t, err)
	assert.True(t, eff.Defending)
	assert.Zero(t, eff.Damage)
	assert.Zero(t, eff.Healing)
}

func TestResolve_HealRange(t *testing.T) {
	src := NewSource(7)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		eff, err := Resolve(fighter(10), domain.MoveHeal, src)
		require.NoError(t, err)
		require.GreaterOrEqual(t, eff.Healing, 5)
		require.LessOrEqual(t, eff.Healing, 15)
		seen[eff.Healing] = true
	}
	assert.Len(t, seen, 11)
}

func TestDescribeHeal(t *testing.T) {
	assert.Equal(t, "heals for 3 HP", DescribeHeal(3))
	assert.Equal(t, "is already at full health", DescribeHeal(0))
}

func TestResolve_SpecialLandsAtDoubleAttack(t *testing.T) {
	src := NewSource(99)
	hits := 0
	for i := 0; i < 2000; i++ {
		eff, err := Resolve(fighter(10), domain.MoveSpecial, src)
		require.NoError(t, err)
		if eff.Missed {
			require.Zero(t, eff.Damage)
			continue
		}
		hits++
		require.GreaterOrEqual(t, eff.Damage, 20)
		require.LessOrEqual(t, eff.Damage, 25)
	}
	assert.InDelta(t, 0.7, float64(hits)/2000, 0.05)
}

func TestResolve_SpecialScripted(t *testing.T) {
	hit, err := Resolve(fighter(12), domain.MoveSpecial, &Sequence{Floats: []float64{0.69}, Ints: []int{4}})
	require.NoError(t, err)
	assert.Equal(t, 28, hit.Damage)

	miss, err := Resolve(fighter(12), domain.MoveSpecial, &Sequence{Floats: []float64{0.7}})
	require.NoError(t, err)
	assert.True(t, miss.Missed)
	assert.Zero(t, miss.Damage)
}

func TestResolve_UnknownMove(t *testing.T) {
	_, err := Resolve(fighter(10), domain.MoveKind("dance"), NewSource(1))
	assert.True(t, errors.Is(err, domain.ErrInvalidMove))
}

func TestMitigate(t *testing.T) {
	assert.Equal(t, 5, Mitigate(10, 5))
	assert.Equal(t, 1, Mitigate(3, 5))
	assert.Equal(t, 0, Mitigate(0, 5))
}

func TestInstantDamage(t *testing.T) {
	src := NewSource(3)
	for i := 0; i < 1000; i++ {
		d := InstantDamage(12, src)
		require.GreaterOrEqual(t, d, 12)
		require.LessOrEqual(t, d, 112)
	}

	a, b := InstantRound(4, 9, &Sequence{Ints: []int{50, 100}})
	assert.Equal(t, 54, a)
	assert.Equal(t, 109, b)
}

func TestNewSource_Deterministic(t *testing.T) {
	a, b := NewSource(2024), NewSource(2024)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Intn(1000), b.Intn(1000))
		require.Equal(t, a.Float64(), b.Float64())
	}
}
