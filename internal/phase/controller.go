// internal/phase/controller.go
// Package phase implements the per-subject processing state machine.
package phase

import (
	"errors"
	"fmt"
)

// Phase is a stage of a subject's run. Phases only move forward.
type Phase int

const (
	// Learning counts spikes per template until the bank is curated
	Learning Phase = iota + 1
	// Filling waits for the metric windows to fill after curation
	Filling
	// Baseline accumulates slopes until the baseline cutoff
	Baseline
	// Tracking computes the metric for the rest of the run
	Tracking
)

// String returns the phase name
func (p Phase) String() string {
	switch p {
	case Learning:
		return "learning"
	case Filling:
		return "filling"
	case Baseline:
		return "baseline"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// NotStarted is the metric start index before curation has completed
const NotStarted = -1

var (
	// ErrInvalidSortIndex indicates the curation trigger index is negative
	ErrInvalidSortIndex = errors.New("template sort index must not be negative")
	// ErrInvalidWindowSize indicates a metric window size is not positive
	ErrInvalidWindowSize = errors.New("metric window sizes must be positive")
	// ErrInvalidBaselineEnd indicates the baseline cutoff precedes the curation trigger
	ErrInvalidBaselineEnd = errors.New("baseline end index must be after the template sort index")
)

// Config holds configuration for the phase controller.
type Config struct {
	// SortIndex is the buffer index that triggers curation (from config: template_sort_idx)
	SortIndex int
	// MinSpikes is the cumulative spike floor for curation (from config: template_sort_min_spikes)
	MinSpikes int
	// ForegroundSize is the foreground window length (from config: metric_fg_size)
	ForegroundSize int
	// BackgroundSize is the background window length (from config: metric_bg_size)
	BackgroundSize int
	// BaselineEnd is the baseline cutoff buffer index (from config: baseline_end_idx)
	BaselineEnd int
}

// Controller tracks the phase of one subject.
//
// Per buffer the caller asks ShouldCurate, curates and reports it with
// CompleteCuration, then calls Advance before computing the metric.
type Controller struct {
	config Config

	phase   Phase
	pending bool // curation requested and not yet done
	curated bool
	start   int
}

// NewController creates a controller in the Learning phase.
func NewController(cfg Config) (*Controller, error) {
	if cfg.SortIndex < 0 {
		return nil, ErrInvalidSortIndex
	}
	if cfg.ForegroundSize < 1 || cfg.BackgroundSize < 1 {
		return nil, ErrInvalidWindowSize
	}
	if cfg.BaselineEnd <= cfg.SortIndex {
		return nil, ErrInvalidBaselineEnd
	}
	return &Controller{
		config: cfg,
		phase:  Learning,
		start:  NotStarted,
	}, nil
}

// Phase returns the current phase
func (c *Controller) Phase() Phase {
	return c.phase
}

// Start returns the metric start index, or NotStarted before curation.
func (c *Controller) Start() int {
	return c.start
}

// Curated reports whether curation has completed
func (c *Controller) Curated() bool {
	return c.curated
}

// ShouldCurate reports whether the bank should be curated at buffer idx.
// Once the trigger index is reached the request stays raised until
// CompleteCuration is called. ok is false when the request is raised but
// cumulative spikes do not exceed the floor; the caller retries next buffer.
func (c *Controller) ShouldCurate(idx, cumulativeSpikes int) (due, ok bool) {
	if c.curated {
		return false, false
	}
	if idx == c.config.SortIndex {
		c.pending = true
	}
	if !c.pending {
		return false, false
	}
	return true, cumulativeSpikes > c.config.MinSpikes
}

// CompleteCuration records that the bank was curated at buffer idx. The
// metric windows start filling at the next buffer.
func (c *Controller) CompleteCuration(idx int) {
	if c.curated {
		return
	}
	c.curated = true
	c.pending = false
	c.start = idx + 1
}

// WindowsFull returns the first buffer index at which both metric windows
// are full, or NotStarted before curation.
func (c *Controller) WindowsFull() int {
	if c.start == NotStarted {
		return NotStarted
	}
	return c.start + c.config.BackgroundSize + c.config.ForegroundSize
}

// Advance applies the transitions due at buffer idx and returns the phase
// for that buffer. At most one of Filling->Baseline and Baseline->Tracking
// fires per buffer.
func (c *Controller) Advance(idx int) Phase {
	if c.phase == Learning && c.start != NotStarted && idx >= c.start {
		c.phase = Filling
	}
	if c.phase == Filling && idx >= c.WindowsFull() {
		c.phase = Baseline
	} else if c.phase == Baseline && idx > c.config.BaselineEnd {
		c.phase = Tracking
	}
	return c.phase
}
