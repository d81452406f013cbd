// internal/events/detect.go
// Package events finds seizure events in a metric series.
package events

import (
	"errors"
	"math"
)

var (
	// ErrInvalidRate indicates the series rate must be positive
	ErrInvalidRate = errors.New("rate must be positive")
	// ErrInvalidDuration indicates the minimum duration must be non-negative
	ErrInvalidDuration = errors.New("minimum duration must be non-negative")
)

// Params configures event detection.
type Params struct {
	// Threshold the metric must strictly exceed (from config: event_threshold)
	Threshold float64
	// MinDuration in seconds a run must last (from config: event_min_duration)
	MinDuration float64
	// Rate is the number of metric values per second
	Rate float64
	// StartIdx is the first value searched, relative to the series (from config: event_start_idx)
	StartIdx int
	// Offset is the absolute index of the first value of the series
	Offset int
}

// Event is a detected seizure. Indices are absolute and End is exclusive.
type Event struct {
	Start int
	End   int
	// StartTime and EndTime are Start and End in seconds
	StartTime float64
	EndTime   float64
}

// MinSamples returns the number of consecutive values above the threshold
// needed for a detection.
func (p Params) MinSamples() int {
	return int(math.Floor(p.MinDuration * p.Rate))
}

// Detect finds every maximal run of values strictly above the threshold that
// lasts at least MinSamples. An event starts MinSamples after its run starts,
// since that is when the detection fires, and ends where the run ends.
// NaN never exceeds the threshold.
func Detect(values []float64, p Params) ([]Event, error) {
	if p.Rate <= 0 {
		return nil, ErrInvalidRate
	}
	if p.MinDuration < 0 {
		return nil, ErrInvalidDuration
	}

	start := max(p.StartIdx, 0)
	if start >= len(values) {
		return nil, nil
	}

	minN := p.MinSamples()
	var out []Event
	emit := func(runStart, runEnd int) {
		if runEnd-runStart < minN {
			return
		}
		s := runStart + minN + p.Offset
		e := runEnd + p.Offset
		out = append(out, Event{
			Start:     s,
			End:       e,
			StartTime: float64(s) / p.Rate,
			EndTime:   float64(e) / p.Rate,
		})
	}

	runStart := -1
	for i := start; i < len(values); i++ {
		above := values[i] > p.Threshold
		switch {
		case above && runStart < 0:
			runStart = i
		case !above && runStart >= 0:
			emit(runStart, i)
			runStart = -1
		}
	}
	if runStart >= 0 {
		emit(runStart, len(values))
	}
	return out, nil
}

// Mask returns a series of length n with 1 inside every event and 0 elsewhere.
// Event indices are shifted by -offset and clamped to the series.
func Mask(evts []Event, n, offset int) []int {
	mask := make([]int, n)
	for _, e := range evts {
		lo := min(max(e.Start-offset, 0), n)
		hi := min(max(e.End-offset, 0), n)
		for i := lo; i < hi; i++ {
			mask[i] = 1
		}
	}
	return mask
}
