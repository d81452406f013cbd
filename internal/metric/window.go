package metric

import "math"

// Sample is one buffer's contribution to a metric window.
type Sample struct {
	Amplitude float64 // mean spike amplitude, NaN when the buffer had no spikes
	Frequency float64 // spikes per second
}

// Window is a fixed-capacity ring of samples with running means. The means
// divide by the capacity, not the number of stored samples, and NaN
// amplitudes contribute nothing. The ring itself never touches the means:
// the Engine applies contributions in a fixed order.
type Window struct {
	data []Sample
	pos  int
	full bool
	cap  int

	meanAmplitude float64
	meanFrequency float64
}

// NewWindow creates a Window with the given capacity.
func NewWindow(cap int) *Window {
	return &Window{
		data: make([]Sample, cap),
		cap:  cap,
	}
}

// Push stores s in place of the oldest sample. Once the window is full it
// returns the evicted sample and true.
func (w *Window) Push(s Sample) (Sample, bool) {
	evicted, ok := w.data[w.pos], w.full
	w.data[w.pos] = s
	w.pos++
	if w.pos >= w.cap {
		w.pos = 0
		w.full = true
	}
	return evicted, ok
}

// Oldest returns the sample that the next Push evicts.
func (w *Window) Oldest() Sample {
	return w.data[w.pos]
}

// Len returns the number of stored samples.
func (w *Window) Len() int {
	if w.full {
		return w.cap
	}
	return w.pos
}

// Cap returns the window capacity
func (w *Window) Cap() int {
	return w.cap
}

// Full reports whether every slot has been written
func (w *Window) Full() bool {
	return w.full
}

// Slice returns the samples in insertion order.
func (w *Window) Slice() []Sample {
	n := w.Len()
	out := make([]Sample, n)
	if w.full {
		copy(out, w.data[w.pos:])
		copy(out[w.cap-w.pos:], w.data[:w.pos])
	} else {
		copy(out, w.data[:w.pos])
	}
	return out
}

// MeanAmplitude returns the running amplitude mean
func (w *Window) MeanAmplitude() float64 {
	return w.meanAmplitude
}

// MeanFrequency returns the running frequency mean
func (w *Window) MeanFrequency() float64 {
	return w.meanFrequency
}

func (w *Window) addAmplitude(v float64) {
	if !math.IsNaN(v) {
		w.meanAmplitude += v / float64(w.cap)
	}
}

func (w *Window) removeAmplitude(v float64) {
	if !math.IsNaN(v) {
		w.meanAmplitude -= v / float64(w.cap)
	}
}

func (w *Window) addFrequency(v float64) {
	w.meanFrequency += v / float64(w.cap)
}
