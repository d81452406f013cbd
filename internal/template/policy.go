package template

import (
	"fmt"
	"math"
	"sort"
)

// Bootstrap policy names (from config: template_bootstrap)
const (
	BootstrapPeaks     = "peaks"
	BootstrapSynthetic = "synthetic"
)

// BootstrapFunc derives n waveforms of the given width from an initial signal
// segment. The waveforms need not be normalized.
type BootstrapFunc func(segment []float64, n, width int) ([][]float64, error)

// CurationPolicy decides whether a template with count detected spikes is kept,
// given the total spikes detected by all templates.
type CurationPolicy func(count, total int) bool

// BootstrapByName returns the bootstrap policy registered under name.
func BootstrapByName(name string) (BootstrapFunc, error) {
	switch name {
	case BootstrapPeaks:
		return PeaksBootstrap, nil
	case BootstrapSynthetic:
		return SyntheticBootstrap, nil
	default:
		return nil, fmt.Errorf("unknown template bootstrap policy %q", name)
	}
}

// ThresholdPolicy keeps a template when it detected at least minCount spikes
// and at least minShare of all spikes detected across the bank.
func ThresholdPolicy(minCount int, minShare float64) CurationPolicy {
	return func(count, total int) bool {
		if count < minCount {
			return false
		}
		return float64(count) >= minShare*float64(total)
	}
}

// PeaksBootstrap picks the n largest-magnitude samples of the segment whose
// width-sample windows fit in the segment without overlapping each other, and
// uses those windows (centered on the extremum) as templates. Slots that cannot
// be filled from the data are filled from SyntheticBootstrap.
func PeaksBootstrap(segment []float64, n, width int) ([][]float64, error) {
	if n <= 0 || width <= 0 {
		return nil, fmt.Errorf("bootstrap %d templates of width %d: %w", n, width, ErrInvalidWidth)
	}
	half := width / 2

	order := make([]int, len(segment))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(segment[order[a]]) > math.Abs(segment[order[b]])
	})

	var centers []int
	out := make([][]float64, 0, n)
	for _, c := range order {
		if len(out) == n {
			break
		}
		if segment[c] == 0 || math.IsNaN(segment[c]) {
			// Remaining samples carry no energy
			break
		}
		if c-half < 0 || c-half+width > len(segment) {
			continue
		}
		overlaps := false
		for _, prev := range centers {
			if abs(c-prev) < width {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		centers = append(centers, c)
		w := make([]float64, width)
		copy(w, segment[c-half:c-half+width])
		out = append(out, w)
	}

	if len(out) < n {
		synth, err := SyntheticBootstrap(nil, n, width)
		if err != nil {
			return nil, err
		}
		out = append(out, synth[len(out):]...)
	}
	return out, nil
}

// SyntheticBootstrap returns a fixed family of spike shapes that ignores the
// segment: Gaussian monophasic pulses alternating with Gaussian-derivative
// biphasic pulses, widening every second template.
func SyntheticBootstrap(_ []float64, n, width int) ([][]float64, error) {
	if n <= 0 || width <= 0 {
		return nil, fmt.Errorf("bootstrap %d templates of width %d: %w", n, width, ErrInvalidWidth)
	}
	center := float64(width / 2)
	out := make([][]float64, n)
	for k := 0; k < n; k++ {
		sigma := float64(width) / 16 * (1 + 0.5*float64(k/2))
		if limit := float64(width) / 4; sigma > limit {
			sigma = limit
		}
		if sigma < 0.5 {
			sigma = 0.5
		}
		w := make([]float64, width)
		for j := range w {
			x := (float64(j) - center) / sigma
			g := math.Exp(-x * x / 2)
			if k%2 == 0 {
				w[j] = g
			} else {
				w[j] = -x * g
			}
		}
		out[k] = w
	}
	return out, nil
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
