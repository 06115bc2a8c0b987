// Package levelcurve maps cumulative XP to levels.
//
// Reaching level L+1 from level L costs 5L² + 50L + 100 XP. Every function here
// is pure and safe for concurrent use.
package levelcurve

// MaxLevel bounds the curve so every cumulative threshold fits in int64.
const MaxLevel = 1_000_000

// MaxXP is the threshold of MaxLevel. Stored XP never exceeds it.
var MaxXP = CumulativeXPForLevel(MaxLevel)

// AddXP returns xp+delta clamped to [0, MaxXP] without overflowing.
func AddXP(xp, delta int64) int64 {
	xp = min(max(xp, 0), MaxXP)
	if delta > MaxXP-xp {
		return MaxXP
	}
	return max(xp+delta, 0)
}

// XPRequiredForStep returns the XP needed to go from level to level+1.
func XPRequiredForStep(level int) int64 {
	if level < 0 {
		level = 0
	}
	l := int64(level)
	return 5*l*l + 50*l + 100
}

// CumulativeXPForLevel returns the total XP at which level is first reached.
// It is the sum of XPRequiredForStep(i) for i in [0, level).
func CumulativeXPForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	l := int64(level)
	// (l-1)l(2l-1) is always divisible by 6.
	return 5*((l-1)*l*(2*l-1)/6) + 25*l*(l-1) + 100*l
}

// LevelFor returns the largest level whose cumulative threshold is <= xp.
func LevelFor(xp int64) int {
	if xp < CumulativeXPForLevel(1) {
		return 0
	}
	if xp >= CumulativeXPForLevel(MaxLevel) {
		return MaxLevel
	}

	hi := 1
	for hi < MaxLevel && CumulativeXPForLevel(hi) <= xp {
		hi *= 2
	}
	if hi > MaxLevel {
		hi = MaxLevel
	}

	// invariant: cumulative(lo) <= xp < cumulative(hi)
	lo := hi / 2
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if CumulativeXPForLevel(mid) <= xp {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// Progress describes how far a member is into their current level.
type Progress struct {
	Level          int   `json:"level"`
	EarnedInLevel  int64 `json:"earned_in_level"`
	NeededForLevel int64 `json:"needed_for_level"`
	Percent        int   `json:"percent"`
}

// ProgressWithinLevel reports progress relative to the given level, not one
// re-derived from xp. Percent is clamped to [0, 100].
func ProgressWithinLevel(xp int64, level int) Progress {
	if level < 0 {
		level = 0
	}
	earned := xp - CumulativeXPForLevel(level)
	needed := CumulativeXPForLevel(level+1) - CumulativeXPForLevel(level)

	p := Progress{Level: level, EarnedInLevel: earned, NeededForLevel: needed}
	switch {
	case needed <= 0, earned >= needed:
		p.Percent = 100
	case earned <= 0:
		p.Percent = 0
	default:
		p.Percent = int(earned * 100 / needed)
	}
	return p
}
