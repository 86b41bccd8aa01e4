package generation

import "math"

// baseCostPerSlice is the credit cost per started 10-second slice.
const baseCostPerSlice = 5

// Cost returns the credit cost for a video of the given duration and
// style: 5 credits per started 10 seconds, times the style multiplier,
// rounded up.
func Cost(durationSeconds int, style Style) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	slices := math.Ceil(float64(durationSeconds) / 10.0)
	return int64(math.Ceil(slices * baseCostPerSlice * style.Multiplier()))
}

// EstimateSeconds returns a rough wall-clock estimate for generating a
// video of the given duration, used for the submission response.
func EstimateSeconds(durationSeconds int) int {
	// Script and voice are fast; video generation dominates at roughly
	// 6x real time on the current provider.
	return 30 + durationSeconds*6
}
