package currency

import (
	"math"
	"math/bits"
	"sort"

	"github.com/cryonero/cryonerod/domain/core"
)

// NextDifficulty retargets for the block at blockIndex from the window of
// previous timestamps and cumulative difficulties, oldest first. The
// algorithm switches at the v2 hardfork.
func (c *Currency) NextDifficulty(blockIndex core.Height, timestamps []core.Timestamp, cumulativeDifficulties []core.Difficulty) core.Difficulty {
	if blockIndex <= c.HardforkV2Height {
		return c.nextDifficultyV1(blockIndex, timestamps, cumulativeDifficulties)
	}
	return c.nextDifficultyV2(timestamps, cumulativeDifficulties)
}

func trimmedWindow(length, window, cut int) (begin, end int) {
	if length <= window-2*cut {
		return 0, length
	}
	begin = (length - (window - 2*cut) + 1) / 2
	return begin, begin + (window - 2*cut)
}

func (c *Currency) nextDifficultyV1(blockIndex core.Height, timestamps []core.Timestamp, cumulativeDifficulties []core.Difficulty) core.Difficulty {
	window := int(c.DifficultyWindow)
	cut := int(c.DifficultyCut)

	originalTimestamps := timestamps
	originalDifficulties := cumulativeDifficulties
	if len(timestamps) > window {
		timestamps = timestamps[:window]
		cumulativeDifficulties = cumulativeDifficulties[:window]
	}
	length := len(timestamps)
	if length <= 1 {
		return 1
	}

	sorted := make([]core.Timestamp, length)
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	cutBegin, cutEnd := trimmedWindow(length, window, cut)
	timeSpan := uint64(sorted[cutEnd-1] - sorted[cutBegin])
	if timeSpan == 0 {
		timeSpan = 1
	}
	totalWork := cumulativeDifficulties[cutEnd-1] - cumulativeDifficulties[cutBegin]

	high, low := bits.Mul64(totalWork, uint64(c.DifficultyTarget))
	if high != 0 || math.MaxUint64-low < timeSpan-1 {
		return 0
	}

	if blockIndex >= c.HardforkV1Height {
		// Recompute over the untrimmed tail with a narrow window and no
		// cut, flooring the result.
		window = 17
		cut = 0
		if window > len(originalTimestamps) {
			window = len(originalTimestamps)
		}
		tailTimestamps := append([]core.Timestamp(nil), originalTimestamps[len(originalTimestamps)-window:]...)
		tailDifficulties := originalDifficulties[len(originalDifficulties)-window:]
		length = len(tailTimestamps)
		if length <= 1 {
			return 1
		}
		sort.Slice(tailTimestamps, func(i, j int) bool { return tailTimestamps[i] < tailTimestamps[j] })
		cutBegin, cutEnd = trimmedWindow(length, 17, cut)
		timeSpan = uint64(tailTimestamps[cutEnd-1] - tailTimestamps[cutBegin])
		if timeSpan == 0 {
			timeSpan = 1
		}
		totalWork = tailDifficulties[cutEnd-1] - tailDifficulties[cutBegin]
		high, low = bits.Mul64(totalWork, uint64(c.DifficultyTarget))
		if high != 0 || math.MaxUint64-low < timeSpan-1 {
			return 0
		}
		nextDiff := low / timeSpan
		if nextDiff <= 100 {
			nextDiff = 100
		}
		return nextDiff
	}

	return (low + timeSpan - 1) / timeSpan
}

func (c *Currency) nextDifficultyV2(timestamps []core.Timestamp, cumulativeDifficulties []core.Difficulty) core.Difficulty {
	T := int64(c.DifficultyTarget)
	N := int64(c.DifficultyWindowV2)
	FTL := int64(c.BlockFutureTimeLimitV2)

	if int64(len(timestamps)) <= N {
		return 1000
	}

	var L, sum3ST int64
	for i := int64(1); i <= N; i++ {
		ST := int64(timestamps[i]) - int64(timestamps[i-1])
		if ST > 6*T {
			ST = 6 * T
		}
		if ST < -FTL {
			ST = -FTL
		}
		L += ST * i
		if i > N-3 {
			sum3ST += ST
		}
	}

	nextD := int64(cumulativeDifficulties[N]-cumulativeDifficulties[0]) * T * (N + 1) * 99 / (100 * 2 * L)
	prevD := int64(cumulativeDifficulties[N] - cumulativeDifficulties[N-1])

	if sum3ST < (8*T)/10 {
		nextD = (prevD * 110) / 100
	}

	return core.Difficulty(nextD)
}
