// internal/dsp/detector.go
package dsp

import (
	"errors"
	"fmt"
	"math"

	"github.com/ColonelBlimp/apmetric/internal/spike"
	"github.com/ColonelBlimp/apmetric/internal/template"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidBufferSize indicates buffer size must exceed twice the spike size
	ErrInvalidBufferSize = errors.New("buffer size must be larger than twice the spike size")
	// ErrInvalidSpikeSize indicates spike size must be a positive even number
	ErrInvalidSpikeSize = errors.New("spike size must be a positive even number")
	// ErrInvalidThreshold indicates threshold must be between 0 and 1
	ErrInvalidThreshold = errors.New("correlation threshold must be between 0.0 and 1.0")
	// ErrInvalidDistance indicates the minimum spike distance must be positive
	ErrInvalidDistance = errors.New("minimum spike distance must be positive")
	// ErrInvalidAmplitudeRatio indicates the amplitude gate is empty or negative
	ErrInvalidAmplitudeRatio = errors.New("amplitude ratios must satisfy 0 <= min < max")
	// ErrInvalidMaxSpikes indicates the per-buffer spike bound must be positive
	ErrInvalidMaxSpikes = errors.New("max spikes per buffer must be positive")
	// ErrBufferLength indicates a buffer of the wrong length was supplied
	ErrBufferLength = errors.New("buffer length does not match configured buffer size")
	// ErrBankRequired indicates a template bank is required
	ErrBankRequired = errors.New("template bank is required")
)

// DetectorConfig holds configuration for the spike detector.
// All values should come from the application config file.
type DetectorConfig struct {
	// BufferSize is the number of samples per buffer (from config: buffer_size)
	BufferSize int
	// SpikeSize is the spike window length W (from config: spike_size)
	SpikeSize int
	// Threshold is the minimum |correlation| of a peak (from config: correlation_threshold)
	Threshold float64
	// MinSpikeDistance is the minimum spacing between accepted peaks (from config: min_spike_distance)
	MinSpikeDistance int
	// MinAmpRMSRatio rejects peaks smaller than this x buffer RMS (from config: min_amp_rms_ratio)
	MinAmpRMSRatio float64
	// MaxAmpRMSRatio rejects peaks larger than this x buffer RMS (from config: max_amp_rms_ratio)
	MaxAmpRMSRatio float64
	// MaxSpikes bounds the spikes accepted in one buffer (from config: max_spikes_per_buffer)
	MaxSpikes int
}

// Detector finds spikes in a buffer by correlating the energy-normalized
// signal against a template bank. Scratch space is reused between buffers, so
// a Detector must not be shared between goroutines.
type Detector struct {
	config DetectorConfig

	padded      []float64   // buffer with SpikeSize/2 zeros on each side
	correlation [][]float64 // |correlation| per template per sample
	envelope    []float64   // max correlation across templates
}

// NewDetector creates a new spike detector with the given configuration.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if cfg.SpikeSize < 2 || cfg.SpikeSize%2 != 0 {
		return nil, ErrInvalidSpikeSize
	}
	if cfg.BufferSize <= 2*cfg.SpikeSize {
		return nil, ErrInvalidBufferSize
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, ErrInvalidThreshold
	}
	if cfg.MinSpikeDistance < 1 {
		return nil, ErrInvalidDistance
	}
	if cfg.MinAmpRMSRatio < 0 || cfg.MinAmpRMSRatio >= cfg.MaxAmpRMSRatio {
		return nil, ErrInvalidAmplitudeRatio
	}
	if cfg.MaxSpikes < 1 {
		return nil, ErrInvalidMaxSpikes
	}

	return &Detector{
		config:   cfg,
		padded:   make([]float64, cfg.BufferSize+cfg.SpikeSize),
		envelope: make([]float64, cfg.BufferSize),
	}, nil
}

// Process detects the spikes of one buffer.
//
// rms is the buffer RMS used for the amplitude gate, offset is added to every
// local sample index to form the global event location. When learn is true
// every template's own correlation trace is peak-counted and its spike counter
// incremented in the bank.
//
// Returns spike.ErrCapacity (wrapped) if more than MaxSpikes are accepted.
func (d *Detector) Process(samples []float64, rms float64, bank *template.Bank, learn bool, offset int) ([]spike.Event, error) {
	if bank == nil {
		return nil, ErrBankRequired
	}
	if len(samples) != d.config.BufferSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBufferLength, len(samples), d.config.BufferSize)
	}

	d.correlate(samples, bank)

	if learn {
		last := d.config.BufferSize - 1
		for t := 0; t < bank.Len(); t++ {
			n := findPeaks(d.correlation[t], 1, last, d.config.Threshold, d.config.MinSpikeDistance, nil)
			bank.AddSpikes(t, n)
		}
	}

	d.computeEnvelope(bank.Len())

	minAmp := rms * d.config.MinAmpRMSRatio
	maxAmp := rms * d.config.MaxAmpRMSRatio
	half := d.config.SpikeSize / 2

	var events []spike.Event
	accept := func(i int) bool {
		window := samples[i-half : i-half+d.config.SpikeSize]
		amp := floats.Max(window) - floats.Min(window)
		if amp < minAmp || amp > maxAmp {
			return false
		}
		events = append(events, spike.Event{Location: offset + i, Amplitude: amp})
		return true
	}

	// Peaks closer than one spike window to the edges are discarded
	findPeaks(d.envelope, 1+d.config.SpikeSize, d.config.BufferSize-d.config.SpikeSize,
		d.config.Threshold, d.config.MinSpikeDistance, accept)

	if len(events) > d.config.MaxSpikes {
		return nil, fmt.Errorf("buffer at offset %d: %w: %d spikes > %d", offset, spike.ErrCapacity, len(events), d.config.MaxSpikes)
	}
	return events, nil
}

// correlate fills d.correlation with the absolute correlation of every
// template against the sliding, energy-normalized signal window centered on
// each sample. The window energy is maintained incrementally and recomputed
// once every SpikeSize samples.
func (d *Detector) correlate(samples []float64, bank *template.Bank) {
	size := d.config.SpikeSize
	half := size / 2
	n := d.config.BufferSize

	clear(d.padded)
	copy(d.padded[half:], samples)

	for len(d.correlation) < bank.Len() {
		d.correlation = append(d.correlation, make([]float64, n))
	}

	var energy float64
	for j := 0; j < size; j++ {
		energy += d.padded[j] * d.padded[j]
	}

	for i := 0; i < n; i++ {
		switch {
		case i > 0 && i%size == 0:
			// Resync once per window so rounding left by a large transient
			// does not outlive it
			energy = floats.Dot(d.padded[i:i+size], d.padded[i:i+size])
		case i > 0:
			in := d.padded[i+size-1]
			out := d.padded[i-1]
			energy += in*in - out*out
		}
		// Guard against floating point errors causing negative values
		if energy < 0 {
			energy = 0
		}

		window := d.padded[i : i+size]
		if energy == 0 {
			// Silent window: no template can match
			for t := 0; t < bank.Len(); t++ {
				d.correlation[t][i] = 0
			}
			continue
		}

		norm := math.Sqrt(energy)
		for t := 0; t < bank.Len(); t++ {
			d.correlation[t][i] = math.Abs(floats.Dot(window, bank.At(t).Values)) / norm
		}
	}
}

// computeEnvelope takes the per-sample maximum correlation across templates.
func (d *Detector) computeEnvelope(ntemplates int) {
	for i := range d.envelope {
		m := 0.0
		for t := 0; t < ntemplates; t++ {
			if c := d.correlation[t][i]; c > m {
				m = c
			}
		}
		d.envelope[i] = m
	}
}

// Config returns the current configuration
func (d *Detector) Config() DetectorConfig {
	return d.config
}
