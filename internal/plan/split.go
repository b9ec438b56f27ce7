package plan

import "math"

// splitRuns splits a total run count into jobs obeying both the
// per-job run cap and the time ceiling. Full jobs come first, the
// remainder job last; output is deterministic for identical input.
func splitRuns(total int64, maxRuns int32, maxTimeSeconds int64, timePerRun float64) []int32 {
	if total <= 0 {
		return nil
	}

	jobCap := int64(maxRuns)
	if jobCap < 1 {
		jobCap = 1
	}
	if timePerRun > 0 && maxTimeSeconds > 0 {
		byTime := int64(math.Floor(float64(maxTimeSeconds) / timePerRun))
		if byTime < 1 {
			byTime = 1
		}
		if byTime < jobCap {
			jobCap = byTime
		}
	}

	full := total / jobCap
	rem := total % jobCap
	out := make([]int32, 0, full+1)
	for i := int64(0); i < full; i++ {
		out = append(out, int32(jobCap))
	}
	if rem > 0 {
		out = append(out, int32(rem))
	}
	return out
}
