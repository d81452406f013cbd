// internal/algo/processor.go
// Package algo runs the spike detection and metric pipeline for one subject.
package algo

import (
	"context"
	"errors"
	"fmt"

	"github.com/ColonelBlimp/apmetric/internal/dsp"
	"github.com/ColonelBlimp/apmetric/internal/metric"
	"github.com/ColonelBlimp/apmetric/internal/phase"
	"github.com/ColonelBlimp/apmetric/internal/signal"
	"github.com/ColonelBlimp/apmetric/internal/spike"
	"github.com/ColonelBlimp/apmetric/internal/template"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSubjectRequired indicates an empty subject name
	ErrSubjectRequired = errors.New("subject is required")
	// ErrPolicyRequired indicates a missing bootstrap or curation policy
	ErrPolicyRequired = errors.New("bootstrap and curation policies are required")
)

// Result is everything a subject run produced up to the last processed buffer.
type Result struct {
	Subject string
	metric.Series

	// Phases holds the phase of every processed buffer
	Phases []phase.Phase
	// Spikes is the subject's spike log in detection order
	Spikes []spike.Event
	// Processed is the number of buffers processed
	Processed int
	// Complete is true when every buffer of the run was processed
	Complete bool
	// Templates is the number of active templates at the end of the run
	Templates int
	// CurationIndex is the buffer at which the bank was curated, -1 if never
	CurationIndex int
	// Baseline holds the baseline deviations, nil if the cutoff was not reached
	Baseline *metric.Baseline
}

// Processor holds the state of one subject. It is created at subject start,
// fed buffers in order and discarded at subject end. A Processor must not be
// shared between goroutines.
type Processor struct {
	config  Config
	subject string
	log     *log.Entry

	detector   *dsp.Detector
	controller *phase.Controller
	engine     *metric.Engine
	bank       *template.Bank

	spikes   *spike.Log
	current  []spike.Event
	phases   []phase.Phase
	rms      float64
	next     int
	curateAt int
}

// NewProcessor creates the per-subject state. logger may be nil.
func NewProcessor(cfg Config, subject string, logger *log.Entry) (*Processor, error) {
	if subject == "" {
		return nil, ErrSubjectRequired
	}
	if cfg.Bootstrap == nil || cfg.Curation == nil {
		return nil, ErrPolicyRequired
	}
	if cfg.NTemplates < 1 {
		return nil, fmt.Errorf("%w: need at least one initial template", template.ErrNoTemplates)
	}
	if cfg.MaxTotalSpikes < 1 {
		return nil, fmt.Errorf("max total spikes must be positive, got %d", cfg.MaxTotalSpikes)
	}

	detector, err := dsp.NewDetector(cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("create detector: %w", err)
	}
	controller, err := phase.NewController(cfg.Phase)
	if err != nil {
		return nil, fmt.Errorf("create phase controller: %w", err)
	}
	engine, err := metric.NewEngine(cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("create metric engine: %w", err)
	}

	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Processor{
		config:     cfg,
		subject:    subject,
		log:        logger.WithField("subject", subject),
		detector:   detector,
		controller: controller,
		engine:     engine,
		spikes:     spike.NewLog(cfg.MaxTotalSpikes),
		phases:     make([]phase.Phase, 0, cfg.Metric.NBuffers),
		curateAt:   -1,
	}, nil
}

// ProcessBuffer runs one time step. Buffers must arrive with idx 0, 1, 2...
// The first buffer also seeds the template bank.
func (p *Processor) ProcessBuffer(idx int, buf signal.Buffer) (metric.Row, error) {
	if idx != p.next {
		return metric.Row{}, fmt.Errorf("%w: got buffer %d, want %d", metric.ErrOutOfOrder, idx, p.next)
	}
	if idx >= p.config.Metric.NBuffers {
		return metric.Row{}, fmt.Errorf("%w: %d not in [0, %d)", metric.ErrIndexRange, idx, p.config.Metric.NBuffers)
	}
	// Checked before the bank is bootstrapped from the buffer
	if len(buf.Samples) != p.config.Detector.BufferSize {
		return metric.Row{}, fmt.Errorf("buffer %d: %w: got %d samples, want %d",
			idx, dsp.ErrBufferLength, len(buf.Samples), p.config.Detector.BufferSize)
	}

	if p.bank == nil {
		bank, err := template.Bootstrap(p.config.Bootstrap, buf.Samples, p.config.NTemplates, p.config.Detector.SpikeSize)
		if err != nil {
			return metric.Row{}, err
		}
		p.bank = bank
		p.log.WithField("templates", bank.Len()).Debug("template bank initialized")
	}

	p.rms = buf.RMS
	learn := p.controller.Phase() == phase.Learning && !p.bank.Curated()
	offset := idx * p.config.Detector.BufferSize

	events, err := p.detector.Process(buf.Samples, buf.RMS, p.bank, learn, offset)
	if err != nil {
		return metric.Row{}, fmt.Errorf("buffer %d: %w", idx, err)
	}
	p.current = events
	if err = p.spikes.Append(events...); err != nil {
		return metric.Row{}, fmt.Errorf("buffer %d: %w", idx, err)
	}

	if err = p.curate(idx); err != nil {
		return metric.Row{}, err
	}

	prev := p.controller.Phase()
	ph := p.controller.Advance(idx)
	if ph != prev {
		p.log.WithFields(log.Fields{"buffer": idx, "phase": ph.String()}).Info("phase transition")
	}

	amplitudes := make([]float64, len(events))
	for i, e := range events {
		amplitudes[i] = e.Amplitude
	}
	row, err := p.engine.Update(idx, ph, p.controller.Start(), amplitudes)
	if err != nil {
		return metric.Row{}, err
	}
	if idx == p.config.Metric.BaselineEnd {
		if b, ok := p.engine.Baseline(); ok {
			p.log.WithFields(log.Fields{
				"amplitude_std": b.AmplitudeStd,
				"frequency_std": b.FrequencyStd,
			}).Info("baseline computed")
		}
	}

	p.phases = append(p.phases, ph)
	p.next++

	p.log.WithFields(log.Fields{
		"buffer": idx,
		"spikes": len(events),
		"rms":    buf.RMS,
		"phase":  int(ph),
	}).Debug("processed buffer")

	return row, nil
}

// curate runs the one-time template curation when it is due and enough
// spikes have been detected, otherwise defers it to the next buffer.
func (p *Processor) curate(idx int) error {
	due, ok := p.controller.ShouldCurate(idx, p.spikes.Len())
	if !due {
		return nil
	}
	if !ok {
		p.log.WithFields(log.Fields{
			"buffer": idx,
			"spikes": p.spikes.Len(),
		}).Warnf("cannot sort templates yet, only %s spikes detected", humanize.Comma(int64(p.spikes.Len())))
		return nil
	}

	counts := p.bank.Counts()
	removed, err := p.bank.Curate(p.config.Curation)
	if err != nil {
		return fmt.Errorf("buffer %d: %w", idx, err)
	}
	p.controller.CompleteCuration(idx)
	p.curateAt = idx

	fields := log.Fields{
		"buffer":  idx,
		"counts":  counts,
		"kept":    p.bank.Len(),
		"removed": removed,
	}
	if p.bank.Len() == 0 {
		p.log.WithFields(fields).Warn("template curation removed every template")
	} else {
		p.log.WithFields(fields).Info("templates sorted")
	}
	return nil
}

// Run processes every remaining buffer of the subject from src. It stops
// between buffers when ctx is done, returning the partial result and
// ctx.Err(). A source or processing error aborts the subject and is returned
// alongside the partial result.
func (p *Processor) Run(ctx context.Context, src signal.Source) (*Result, error) {
	for idx := p.next; idx < p.config.Metric.NBuffers; idx++ {
		if err := ctx.Err(); err != nil {
			p.log.WithField("buffer", idx).Warn("run cancelled")
			return p.Result(), err
		}

		buf, err := src.Read(ctx, p.subject, idx+1)
		if err != nil {
			return p.Result(), fmt.Errorf("subject %s buffer %d: %w", p.subject, idx+1, err)
		}
		if _, err = p.ProcessBuffer(idx, buf); err != nil {
			return p.Result(), fmt.Errorf("subject %s: %w", p.subject, err)
		}
	}

	p.log.WithFields(log.Fields{
		"buffers": humanize.Comma(int64(p.next)),
		"spikes":  humanize.Comma(int64(p.spikes.Len())),
	}).Info("subject complete")
	return p.Result(), nil
}

// Result snapshots the outputs of the buffers processed so far.
func (p *Processor) Result() *Result {
	r := &Result{
		Subject:       p.subject,
		Series:        p.engine.Series(),
		Phases:        append([]phase.Phase(nil), p.phases...),
		Spikes:        append([]spike.Event(nil), p.spikes.Events()...),
		Processed:     p.next,
		Complete:      p.next == p.config.Metric.NBuffers,
		CurationIndex: p.curateAt,
	}
	if p.bank != nil {
		r.Templates = p.bank.Len()
	}
	if b, ok := p.engine.Baseline(); ok {
		r.Baseline = &b
	}
	return r
}

// Phase returns the current phase
func (p *Processor) Phase() phase.Phase {
	return p.controller.Phase()
}

// Current returns the spikes of the last processed buffer
func (p *Processor) Current() []spike.Event {
	return p.current
}

// RMS returns the RMS of the last processed buffer
func (p *Processor) RMS() float64 {
	return p.rms
}

// Bank returns the template bank, nil before the first buffer
func (p *Processor) Bank() *template.Bank {
	return p.bank
}
