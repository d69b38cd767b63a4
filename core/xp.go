package core

import "math"

// XPForLevel returns the cumulative XP threshold of a level:
// floor(100 * level^1.5). Levels below 1 are treated as 1.
func XPForLevel(level int64) int64 {
	if level < 1 {
		level = 1
	}
	l := float64(level)
	v := math.Floor(100 * l * math.Sqrt(l))
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// LevelFromXP returns the largest level whose threshold is <= totalXP.
// Level 1 is the floor. The search starts just below the closed-form
// estimate and ascends one level at a time, so it never overshoots.
func LevelFromXP(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	level := int64(math.Cbrt(math.Pow(float64(totalXP)/100, 2))) - 2
	if level < 1 {
		level = 1
	}
	for level > 1 && XPForLevel(level) > totalXP {
		level--
	}
	for {
		next := XPForLevel(level + 1)
		if next > totalXP || next == math.MaxInt64 {
			return level
		}
		level++
	}
}

// XPToNextLevel returns the XP still missing to reach level+1.
func XPToNextLevel(totalXP, level int64) int64 {
	return max(XPForLevel(level+1)-totalXP, 0)
}

// LevelProgress returns how far totalXP sits inside the band of level,
// as a percentage clamped to [0, 100]. Level 1's band starts at zero XP.
func LevelProgress(totalXP, level int64) float64 {
	if level < 1 {
		level = 1
	}
	var lo int64
	if level > 1 {
		lo = XPForLevel(level)
	}
	hi := XPForLevel(level + 1)
	if hi <= lo {
		return 100
	}
	pct := float64(totalXP-lo) / float64(hi-lo) * 100
	return math.Min(100, math.Max(0, pct))
}

// LevelSnapshot is the derived view of a user's XP.
type LevelSnapshot struct {
	TotalXP       int64   `json:"total_xp"`
	Level         int64   `json:"level"`
	XPToNextLevel int64   `json:"xp_to_next_level"`
	Progress      float64 `json:"level_progress"`
}

// SnapshotLevel derives level data from total XP.
func SnapshotLevel(totalXP int64) LevelSnapshot {
	level := LevelFromXP(totalXP)
	return LevelSnapshot{
		TotalXP:       totalXP,
		Level:         level,
		XPToNextLevel: XPToNextLevel(totalXP, level),
		Progress:      LevelProgress(totalXP, level),
	}
}
