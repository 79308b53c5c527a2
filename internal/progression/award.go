package progression

const (
	winBase         = 10
	lossBase        = 5
	damageBonusStep = 20
	damageBonusCap  = 10
	streakBonusCap  = 5
	firstDuelBonus  = 5
	damageXPStep    = 10
)

// Multipliers are expressed in tenths so the product floors exactly.
const (
	tenths          = 10
	outlawTenths    = 20
	regularTenths   = 10
	strongerTenths  = 20
	weakerTenths    = 5
	diminishedFloor = 1
)

// AwardInput is everything the XP formula looks at for one participant.
type AwardInput struct {
	Won              bool
	DamageDealt      int
	OwnLevel         int
	OpponentLevel    int
	FirstDuelToday   bool
	OpponentIsOutlaw bool
	WinStreak        int
	// DuelsToday counts duels finished today before this one.
	DuelsToday int
}

// Award returns the experience earned for one duel outcome. It is never
// below 1.
func Award(in AwardInput) int64 {
	base := lossBase
	if in.Won {
		base = winBase
	}

	damage := in.DamageDealt
	if damage < 0 {
		damage = 0
	}
	damageBonus := min(damage/damageBonusStep, damageBonusCap)

	streakBonus := 0
	if in.Won {
		streakBonus = min(max(in.WinStreak, 0), streakBonusCap)
	}

	firstBonus := 0
	if in.FirstDuelToday {
		firstBonus = firstDuelBonus
	}

	damageXP := damage / damageXPStep

	sum := int64(base + damageBonus + streakBonus + firstBonus + damageXP)
	xp := sum *
		LevelMultiplier(in.OwnLevel, in.OpponentLevel) *
		OutlawMultiplier(in.OpponentIsOutlaw) *
		Diminishing(in.DuelsToday) /
		(tenths * tenths * tenths)
	if xp < 1 {
		return 1
	}
	return xp
}

// LevelMultiplier rewards beating stronger opponents and discounts weaker
// ones. The result is in tenths: 20 means 2.0.
func LevelMultiplier(own, opponent int) int64 {
	switch {
	case opponent > own:
		return strongerTenths
	case opponent < own:
		return weakerTenths
	default:
		return regularTenths
	}
}

// OutlawMultiplier doubles the award against an outlaw, in tenths.
func OutlawMultiplier(opponentIsOutlaw bool) int64 {
	if opponentIsOutlaw {
		return outlawTenths
	}
	return regularTenths
}

// Diminishing is the anti-farming factor, in tenths, for duels already
// played today.
func Diminishing(duelsToday int) int64 {
	switch {
	case duelsToday >= 10:
		return diminishedFloor
	case duelsToday >= 5:
		return 5
	case duelsToday >= 3:
		return 8
	default:
		return regularTenths
	}
}
