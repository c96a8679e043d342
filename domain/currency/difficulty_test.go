package currency

import (
	"testing"

	"github.com/cryonero/cryonerod/domain/core"
)

func TestNextDifficultyBootstraps(t *testing.T) {
	c := mustNew(t, false)
	if got := c.NextDifficulty(0, nil, nil); got != 1 {
		t.Errorf("empty window difficulty = %d, want 1", got)
	}
	if got := c.NextDifficulty(1, []core.Timestamp{100}, []core.Difficulty{1}); got != 1 {
		t.Errorf("single-entry window difficulty = %d, want 1", got)
	}
}

func TestNextDifficultyClassicTracksTarget(t *testing.T) {
	c := mustNew(t, false)
	// 30 blocks exactly on target and constant per-block work 1000.
	timestamps := make([]core.Timestamp, 30)
	cumulative := make([]core.Difficulty, 30)
	for i := range timestamps {
		timestamps[i] = core.Timestamp(1000000 + i*int(c.DifficultyTarget))
		cumulative[i] = core.Difficulty((i + 1) * 1000)
	}
	got := c.NextDifficulty(100, timestamps, cumulative)
	// work = 29000 over 29 targets; ceil keeps the difficulty at ~1000.
	if got < 999 || got > 1001 {
		t.Errorf("on-target difficulty = %d, want about 1000", got)
	}
}

func TestNextDifficultyClassicFloorsAfterHardforkV1(t *testing.T) {
	c := mustNew(t, false)
	// Blocks coming far slower than the target push the raw estimate
	// toward zero; after the first hardfork it floors at 100.
	count := 30
	timestamps := make([]core.Timestamp, count)
	cumulative := make([]core.Difficulty, count)
	for i := range timestamps {
		timestamps[i] = core.Timestamp(1000000 + i*int(c.DifficultyTarget)*1000)
		cumulative[i] = core.Difficulty(i + 1)
	}
	got := c.NextDifficulty(c.HardforkV1Height, timestamps, cumulative)
	if got != 100 {
		t.Errorf("slow-chain difficulty after hardfork v1 = %d, want the 100 floor", got)
	}
}

// Fewer than window+1 blocks after the v2 fork yields the fixed bootstrap
// difficulty.
func TestNextDifficultyV2Bootstrap(t *testing.T) {
	c := mustNew(t, false)
	timestamps := make([]core.Timestamp, c.DifficultyWindowV2)
	cumulative := make([]core.Difficulty, c.DifficultyWindowV2)
	got := c.NextDifficulty(c.HardforkV2Height+1, timestamps, cumulative)
	if got != 1000 {
		t.Errorf("under-populated v2 window difficulty = %d, want 1000", got)
	}
}

func TestNextDifficultyV2OnTarget(t *testing.T) {
	c := mustNew(t, false)
	n := int(c.DifficultyWindowV2)
	timestamps := make([]core.Timestamp, n+1)
	cumulative := make([]core.Difficulty, n+1)
	for i := range timestamps {
		timestamps[i] = core.Timestamp(1000000 + i*int(c.DifficultyTarget))
		cumulative[i] = core.Difficulty((i + 1) * 1000000)
	}
	got := c.NextDifficulty(c.HardforkV2Height+1000, timestamps, cumulative)
	// The LWMA weights cancel on a perfectly even chain; the 99/200 factor
	// lands just below the average per-block work.
	if got < 900000 || got > 1100000 {
		t.Errorf("on-target v2 difficulty = %d, want near 1000000", got)
	}
}

func TestNextDifficultyV2BumpsOnFastTail(t *testing.T) {
	c := mustNew(t, false)
	n := int(c.DifficultyWindowV2)
	timestamps := make([]core.Timestamp, n+1)
	cumulative := make([]core.Difficulty, n+1)
	for i := range timestamps {
		// The last three blocks arrive within a second of each other.
		if i >= n-2 {
			timestamps[i] = timestamps[i-1] + 1
		} else {
			timestamps[i] = core.Timestamp(1000000 + i*int(c.DifficultyTarget))
		}
		cumulative[i] = core.Difficulty((i + 1) * 1000000)
	}
	got := c.NextDifficulty(c.HardforkV2Height+1000, timestamps, cumulative)
	want := core.Difficulty(1000000 * 110 / 100)
	if got != want {
		t.Errorf("fast-tail difficulty = %d, want the 10%% bump to %d", got, want)
	}
}

func TestDifficultyWindowWidthSwitchesAtFork(t *testing.T) {
	c := mustNew(t, false)
	if c.GetDifficultyBlocksCount(c.HardforkV2Height) != c.DifficultyBlocksCount() {
		t.Error("classic window expected at the fork height")
	}
	if c.GetDifficultyBlocksCount(c.HardforkV2Height+1) != c.DifficultyWindowV2+1 {
		t.Error("v2 window expected above the fork height")
	}
}
