// Package template holds the reference spike waveforms used for correlation
// matching and the one-time curation that prunes low-yield templates.
package template

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidWidth indicates the template window length must be positive
	ErrInvalidWidth = errors.New("template width must be positive")
	// ErrWidthMismatch indicates a waveform does not have the bank's window length
	ErrWidthMismatch = errors.New("template waveform length does not match width")
	// ErrZeroTemplate indicates a waveform with no energy, which cannot be normalized
	ErrZeroTemplate = errors.New("template waveform has zero energy")
	// ErrAlreadyCurated indicates curation was requested a second time
	ErrAlreadyCurated = errors.New("template bank already curated")
	// ErrNoTemplates indicates a bootstrap policy produced no waveforms
	ErrNoTemplates = errors.New("bootstrap produced no templates")
)

// Template is a unit-norm reference waveform plus the number of spikes it has
// detected during the learning phase.
type Template struct {
	Values []float64
	Spikes int
}

// Bank is the ordered set of active templates. After Curate it can only have
// shrunk.
type Bank struct {
	width     int
	templates []*Template
	curated   bool
}

// NewBank creates a bank from raw waveforms. Each waveform is copied and
// scaled to unit L2 norm.
func NewBank(waveforms [][]float64, width int) (*Bank, error) {
	if width <= 0 {
		return nil, ErrInvalidWidth
	}
	if len(waveforms) == 0 {
		return nil, ErrNoTemplates
	}

	b := &Bank{width: width, templates: make([]*Template, 0, len(waveforms))}
	for i, w := range waveforms {
		if len(w) != width {
			return nil, fmt.Errorf("template %d: %w (got %d, want %d)", i, ErrWidthMismatch, len(w), width)
		}
		norm := floats.Norm(w, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			return nil, fmt.Errorf("template %d: %w", i, ErrZeroTemplate)
		}
		values := make([]float64, width)
		floats.ScaleTo(values, 1/norm, w)
		b.templates = append(b.templates, &Template{Values: values})
	}
	return b, nil
}

// Bootstrap builds the initial bank by running policy over an initial signal
// segment.
func Bootstrap(policy BootstrapFunc, segment []float64, n, width int) (*Bank, error) {
	waveforms, err := policy(segment, n, width)
	if err != nil {
		return nil, fmt.Errorf("bootstrap templates: %w", err)
	}
	return NewBank(waveforms, width)
}

// Width returns the window length of every template.
func (b *Bank) Width() int {
	return b.width
}

// Len returns the number of active templates.
func (b *Bank) Len() int {
	return len(b.templates)
}

// At returns the i-th active template.
func (b *Bank) At(i int) *Template {
	return b.templates[i]
}

// AddSpikes increments the spike counter of the i-th template.
func (b *Bank) AddSpikes(i, n int) {
	b.templates[i].Spikes += n
}

// Counts returns the spike counter of every active template in order.
func (b *Bank) Counts() []int {
	out := make([]int, len(b.templates))
	for i, t := range b.templates {
		out[i] = t.Spikes
	}
	return out
}

// TotalSpikes returns the sum of all template spike counters.
func (b *Bank) TotalSpikes() int {
	total := 0
	for _, t := range b.templates {
		total += t.Spikes
	}
	return total
}

// Curated reports whether Curate has already run.
func (b *Bank) Curated() bool {
	return b.curated
}

// Curate removes every template rejected by policy. It runs at most once per
// bank and returns the number of templates removed.
func (b *Bank) Curate(policy CurationPolicy) (int, error) {
	if b.curated {
		return 0, ErrAlreadyCurated
	}

	total := b.TotalSpikes()
	kept := b.templates[:0]
	for _, t := range b.templates {
		if policy(t.Spikes, total) {
			kept = append(kept, t)
		}
	}
	removed := len(b.templates) - len(kept)
	// Clear the tail so dropped templates can be collected
	for i := len(kept); i < len(b.templates); i++ {
		b.templates[i] = nil
	}
	b.templates = kept
	b.curated = true
	return removed, nil
}
