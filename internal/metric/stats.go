package metric

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// finite returns the non-NaN values of xs.
func finite(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			out = append(out, x)
		}
	}
	return out
}

// NaNMean returns the mean of the non-NaN values of xs, or NaN if there are none.
func NaNMean(xs []float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}

// NaNStd returns the population standard deviation of the non-NaN values of
// xs, or NaN if there are none.
func NaNStd(xs []float64) float64 {
	v := finite(xs)
	if len(v) == 0 {
		return math.NaN()
	}
	_, std := stat.PopMeanStdDev(v, nil)
	return std
}
