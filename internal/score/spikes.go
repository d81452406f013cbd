// internal/score/spikes.go
// Package score compares detected spike locations against a reference.
package score

import (
	"errors"
	"math"
)

// ErrInvalidLength indicates the recording length must be positive
var ErrInvalidLength = errors.New("recording length must be positive")

// Params configures spike scoring.
type Params struct {
	// Tolerance is the half width of the window around each reference spike
	Tolerance int
	// Length is the recording length in samples
	Length int
	// Start is the first location scored
	Start int
}

// Result holds the spike detection scores. Ratios are NaN when undefined.
type Result struct {
	TP          int
	FP          int
	Reference   int
	Sensitivity float64
	Precision   float64
	F1          float64
}

// Spikes scores hypothesis locations against reference locations.
//
// Every reference spike at or after Start marks the samples
// [loc-Tolerance, loc+Tolerance) of the recording, or just loc when Tolerance
// is 0. Every hypothesis spike at or after Start marks its own sample. TP
// counts marked samples shared by both, FP hypothesis samples outside the
// reference windows. Sensitivity is relative to all reference spikes.
// Windows are clamped to the recording.
func Spikes(ref, hyp []int, p Params) (Result, error) {
	if p.Length <= 0 {
		return Result{}, ErrInvalidLength
	}

	refMask := mask(ref, p.Tolerance, p.Length, p.Start)
	hypMask := mask(hyp, 0, p.Length, p.Start)

	res := Result{Reference: len(ref)}
	for i, h := range hypMask {
		if !h {
			continue
		}
		if refMask[i] {
			res.TP++
		} else {
			res.FP++
		}
	}

	res.Sensitivity, res.Precision, res.F1 = Ratios(res.TP, res.FP, res.Reference)
	return res, nil
}

// Ratios computes sensitivity, precision and F1 from true and false positive
// counts and the number of reference items.
func Ratios(tp, fp, ref int) (sensitivity, precision, f1 float64) {
	sensitivity, precision = math.NaN(), math.NaN()
	if ref > 0 {
		sensitivity = float64(tp) / float64(ref)
	}
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}

	switch {
	case math.IsNaN(sensitivity) || math.IsNaN(precision):
		f1 = math.NaN()
	case sensitivity+precision == 0:
		f1 = 0
	default:
		f1 = 2 * sensitivity * precision / (sensitivity + precision)
	}
	return sensitivity, precision, f1
}

func mask(locs []int, tol, n, start int) []bool {
	m := make([]bool, n)
	for _, loc := range locs {
		if loc < start {
			continue
		}
		if tol <= 0 {
			if loc >= 0 && loc < n {
				m[loc] = true
			}
			continue
		}
		lo := min(max(loc-tol, 0), n)
		hi := min(max(loc+tol, 0), n)
		for i := lo; i < hi; i++ {
			m[i] = true
		}
	}
	return m
}
