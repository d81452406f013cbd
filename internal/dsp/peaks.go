package dsp

// findPeaks scans trace[from:to) for strict local maxima above threshold that
// lie at least minDistance samples after the previously accepted peak.
// accept, when non-nil, may veto a candidate; vetoed candidates do not reset
// the spacing. Returns the number of accepted peaks.
func findPeaks(trace []float64, from, to int, threshold float64, minDistance int, accept func(i int) bool) int {
	if from < 1 {
		from = 1
	}
	if to > len(trace)-1 {
		to = len(trace) - 1
	}

	count := 0
	last := 0
	for i := from; i < to; i++ {
		if count > 0 && i-last < minDistance {
			continue
		}
		v := trace[i]
		if v <= threshold || v <= trace[i-1] || v <= trace[i+1] {
			continue
		}
		if accept != nil && !accept(i) {
			continue
		}
		count++
		last = i
	}
	return count
}
