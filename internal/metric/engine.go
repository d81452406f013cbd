// internal/metric/engine.go
// Package metric derives the seizure metric from per-buffer spike statistics
// using a short foreground window compared against a long background window.
package metric

import (
	"errors"
	"fmt"
	"math"

	"github.com/ColonelBlimp/apmetric/internal/phase"
)

var (
	// ErrInvalidWindowSize indicates a window size is not positive
	ErrInvalidWindowSize = errors.New("metric window sizes must be positive")
	// ErrInvalidBufferCount indicates the run length is not positive
	ErrInvalidBufferCount = errors.New("number of buffers must be positive")
	// ErrInvalidDuration indicates the buffer duration is not positive
	ErrInvalidDuration = errors.New("buffer duration must be positive")
	// ErrOutOfOrder indicates buffers were not supplied in strictly increasing order
	ErrOutOfOrder = errors.New("buffers must be processed in order")
	// ErrIndexRange indicates a buffer index outside the run
	ErrIndexRange = errors.New("buffer index out of range")
)

// Config holds configuration for the metric engine.
type Config struct {
	// ForegroundSize is the foreground window length (from config: metric_fg_size)
	ForegroundSize int
	// BackgroundSize is the background window length (from config: metric_bg_size)
	BackgroundSize int
	// BaselineEnd is the buffer index at which the baseline is computed (from config: baseline_end_idx)
	BaselineEnd int
	// NBuffers is the number of buffers in a run (from config: n_buffers)
	NBuffers int
	// BufferDuration is the length of one buffer in seconds (buffer_size / sampling_freq)
	BufferDuration float64
}

// Baseline holds the slope deviations measured at the baseline cutoff.
type Baseline struct {
	AmplitudeStd float64
	FrequencyStd float64
}

// Row is the engine output for one buffer.
type Row struct {
	Amplitude      float64
	Frequency      float64
	AmplitudeSlope float64
	FrequencySlope float64
	Metric         float64
}

// Series holds the per-buffer outputs of the buffers processed so far.
type Series struct {
	Amplitude      []float64
	Frequency      []float64
	AmplitudeSlope []float64
	FrequencySlope []float64
	Metric         []float64
}

// Engine maintains the foreground and background windows of one subject.
// Buffers must be supplied in strictly increasing index order starting at 0.
type Engine struct {
	config Config

	fg *Window
	bg *Window

	series    Series
	processed int
	baseline  *Baseline
}

// NewEngine creates a metric engine with output arrays sized for a full run.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ForegroundSize < 1 || cfg.BackgroundSize < 1 {
		return nil, ErrInvalidWindowSize
	}
	if cfg.NBuffers < 1 {
		return nil, ErrInvalidBufferCount
	}
	if cfg.BufferDuration <= 0 {
		return nil, ErrInvalidDuration
	}

	return &Engine{
		config: cfg,
		fg:     NewWindow(cfg.ForegroundSize),
		bg:     NewWindow(cfg.BackgroundSize),
		series: Series{
			Amplitude:      nanSlice(cfg.NBuffers),
			Frequency:      nanSlice(cfg.NBuffers),
			AmplitudeSlope: nanSlice(cfg.NBuffers),
			FrequencySlope: nanSlice(cfg.NBuffers),
			Metric:         nanSlice(cfg.NBuffers),
		},
	}, nil
}

// Update records buffer idx. p is the phase for this buffer, start the
// metric start index (phase.NotStarted before curation) and amplitudes the
// amplitudes of the spikes detected in the buffer.
func (e *Engine) Update(idx int, p phase.Phase, start int, amplitudes []float64) (Row, error) {
	if idx < 0 || idx >= e.config.NBuffers {
		return Row{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, idx, e.config.NBuffers)
	}
	if idx != e.processed {
		return Row{}, fmt.Errorf("%w: got %d, want %d", ErrOutOfOrder, idx, e.processed)
	}

	s := Sample{
		Amplitude: NaNMean(amplitudes),
		Frequency: float64(len(amplitudes)) / e.config.BufferDuration,
	}
	e.series.Amplitude[idx] = s.Amplitude
	e.series.Frequency[idx] = s.Frequency

	e.updateWindows(idx, start, s)

	if p >= phase.Baseline {
		e.series.AmplitudeSlope[idx] = e.fg.MeanAmplitude() / e.bg.MeanAmplitude()
		e.series.FrequencySlope[idx] = e.fg.MeanFrequency() / e.bg.MeanFrequency()
	}

	if idx == e.config.BaselineEnd {
		e.baseline = &Baseline{
			AmplitudeStd: NaNStd(e.series.AmplitudeSlope[:idx+1]),
			FrequencyStd: NaNStd(e.series.FrequencySlope[:idx+1]),
		}
	}

	if p >= phase.Tracking && e.baseline != nil {
		a := (e.series.AmplitudeSlope[idx] - 1) / e.baseline.AmplitudeStd
		f := (e.series.FrequencySlope[idx] - 1) / e.baseline.FrequencyStd
		e.series.Metric[idx] = (a + 1) * (f + 1)
	}

	e.processed++

	return Row{
		Amplitude:      s.Amplitude,
		Frequency:      s.Frequency,
		AmplitudeSlope: e.series.AmplitudeSlope[idx],
		FrequencySlope: e.series.FrequencySlope[idx],
		Metric:         e.series.Metric[idx],
	}, nil
}

// updateWindows fills the background window from start, then the
// foreground window, then slides both by one sample per buffer.
func (e *Engine) updateWindows(idx, start int, s Sample) {
	if start == phase.NotStarted || idx < start {
		return
	}

	switch {
	case idx < start+e.bg.Cap():
		e.bg.Push(s)
		e.bg.addAmplitude(s.Amplitude)
		e.bg.addFrequency(s.Frequency)

	case idx < start+e.bg.Cap()+e.fg.Cap():
		e.fg.Push(s)
		e.fg.addAmplitude(s.Amplitude)
		e.fg.addFrequency(s.Frequency)

	default:
		in, _ := e.fg.Push(s)
		out, _ := e.bg.Push(in)

		// Remove the outgoing background sample first, then move the
		// foreground's oldest across, then add the new sample.
		e.bg.removeAmplitude(out.Amplitude)
		if !math.IsNaN(in.Amplitude) {
			e.bg.addAmplitude(in.Amplitude)
			e.fg.removeAmplitude(in.Amplitude)
		}
		e.fg.addAmplitude(s.Amplitude)
		e.bg.meanFrequency += (in.Frequency - out.Frequency) / float64(e.bg.Cap())
		e.fg.meanFrequency += (s.Frequency - in.Frequency) / float64(e.fg.Cap())
	}
}

// Baseline returns the baseline deviations once the cutoff has been processed.
func (e *Engine) Baseline() (Baseline, bool) {
	if e.baseline == nil {
		return Baseline{}, false
	}
	return *e.baseline, true
}

// Foreground returns the foreground window
func (e *Engine) Foreground() *Window {
	return e.fg
}

// Background returns the background window
func (e *Engine) Background() *Window {
	return e.bg
}

// Processed returns the number of buffers recorded so far
func (e *Engine) Processed() int {
	return e.processed
}

// Series returns copies of the output arrays truncated to the processed buffers.
func (e *Engine) Series() Series {
	n := e.processed
	return Series{
		Amplitude:      append([]float64(nil), e.series.Amplitude[:n]...),
		Frequency:      append([]float64(nil), e.series.Frequency[:n]...),
		AmplitudeSlope: append([]float64(nil), e.series.AmplitudeSlope[:n]...),
		FrequencySlope: append([]float64(nil), e.series.FrequencySlope[:n]...),
		Metric:         append([]float64(nil), e.series.Metric[:n]...),
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
