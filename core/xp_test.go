package core

import (
	"errors"
	"testing"
)

func errorsIs(err, target error) bool { return errors.Is(err, target) }

func TestXPForLevel(t *testing.T) {
	cases := map[int64]int64{1: 100, 2: 282, 3: 519, 4: 800, 9: 2700, 0: 100}
	for level, want := range cases {
		if got := XPForLevel(level); got != want {
			t.Fatalf("XPForLevel(%d) = %d, want %d", level, got, want)
		}
	}
}

func TestLevelFromXP(t *testing.T) {
	cases := []struct {
		xp   int64
		want int64
	}{
		{0, 1}, {-5, 1}, {100, 1}, {281, 1}, {282, 2}, {518, 2}, {519, 3}, {800, 4}, {2699, 8}, {2700, 9},
	}
	for _, c := range cases {
		if got := LevelFromXP(c.xp); got != c.want {
			t.Fatalf("LevelFromXP(%d) = %d, want %d", c.xp, got, c.want)
		}
	}
}

func TestLevelRoundTripBoundary(t *testing.T) {
	for level := int64(1); level <= 2000; level++ {
		threshold := XPForLevel(level)
		if got := LevelFromXP(threshold); got != level {
			t.Fatalf("LevelFromXP(XPForLevel(%d)) = %d", level, got)
		}
		if level > 1 {
			if got := LevelFromXP(threshold - 1); got >= level {
				t.Fatalf("LevelFromXP(XPForLevel(%d)-1) = %d, want < %d", level, got, level)
			}
		}
	}
}

func TestLevelMonotonic(t *testing.T) {
	prev := LevelFromXP(0)
	for xp := int64(1); xp <= 200_000; xp += 7 {
		cur := LevelFromXP(xp)
		if cur < prev {
			t.Fatalf("level decreased at xp=%d: %d -> %d", xp, prev, cur)
		}
		prev = cur
	}
}

func TestLevelFromXPHuge(t *testing.T) {
	level := LevelFromXP(1 << 62)
	if level < 1 || XPForLevel(level) > 1<<62 {
		t.Fatalf("bad level for huge xp: %d", level)
	}
}

func TestXPToNextLevel(t *testing.T) {
	if got := XPToNextLevel(0, 1); got != 282 {
		t.Fatalf("got %d", got)
	}
	if got := XPToNextLevel(300, 2); got != 219 {
		t.Fatalf("got %d", got)
	}
	if got := XPToNextLevel(10_000, 1); got != 0 {
		t.Fatalf("stale level should clamp to 0, got %d", got)
	}
}

func TestLevelProgress(t *testing.T) {
	if got := LevelProgress(0, 1); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := LevelProgress(141, 1); got != 50 {
		t.Fatalf("got %v", got)
	}
	if got := LevelProgress(5_000, 2); got != 100 {
		t.Fatalf("should clamp to 100, got %v", got)
	}
	if got := LevelProgress(10, 3); got != 0 {
		t.Fatalf("should clamp to 0, got %v", got)
	}
	snap := SnapshotLevel(300)
	if snap.Level != 2 || snap.XPToNextLevel != 219 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
