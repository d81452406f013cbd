// internal/batch/runner.go
// Package batch processes several subjects of a run, one worker per subject.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ColonelBlimp/apmetric/internal/algo"
	"github.com/ColonelBlimp/apmetric/internal/recovery"
	"github.com/ColonelBlimp/apmetric/internal/results"
	"github.com/ColonelBlimp/apmetric/internal/signal"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrNoSubjects indicates a run without subjects
var ErrNoSubjects = errors.New("no subjects to process")

// Runner processes subjects in parallel. Subjects share nothing, so a
// failure of one never stops the others.
type Runner struct {
	config  algo.Config
	source  signal.Source
	sink    results.Sink
	workers int
	logger  *log.Logger
}

// NewRunner creates a runner. sink may be nil to skip exporting.
func NewRunner(cfg algo.Config, src signal.Source, sink results.Sink, workers int, logger *log.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Runner{
		config:  cfg,
		source:  src,
		sink:    sink,
		workers: workers,
		logger:  logger,
	}
}

// Report summarizes a run.
type Report struct {
	Run     results.RunInfo
	Results map[string]*algo.Result
	Elapsed time.Duration
}

// Run processes every subject and exports each result, partial ones
// included. The returned error joins the failures of all subjects.
func (r *Runner) Run(ctx context.Context, subjects []string) (*Report, error) {
	if len(subjects) == 0 {
		return nil, ErrNoSubjects
	}

	run := results.RunInfo{
		ID:                   uuid.NewString(),
		Started:              time.Now(),
		CorrelationThreshold: r.config.Detector.Threshold,
	}
	runLog := r.logger.WithField("run", run.ID)
	runLog.WithFields(log.Fields{
		"subjects": len(subjects),
		"workers":  r.workers,
	}).Info("starting run")

	report := &Report{Run: run, Results: make(map[string]*algo.Result, len(subjects))}

	var (
		mu   sync.Mutex
		errs []error
	)

	eg := new(errgroup.Group)
	eg.SetLimit(r.workers)

	for _, subject := range subjects {
		eg.Go(func() error {
			res, err := r.runSubject(ctx, run, runLog, subject)

			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				report.Results[subject] = res
			}
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	report.Elapsed = time.Since(run.Started)

	var total int
	for _, res := range report.Results {
		total += len(res.Spikes)
	}
	runLog.WithFields(log.Fields{
		"elapsed": report.Elapsed.Round(time.Millisecond).String(),
		"spikes":  humanize.Comma(int64(total)),
		"failed":  len(errs),
	}).Info("run finished")

	return report, errors.Join(errs...)
}

// runSubject processes one subject and exports whatever it produced.
func (r *Runner) runSubject(ctx context.Context, run results.RunInfo, runLog *log.Entry, subject string) (*algo.Result, error) {
	var res *algo.Result

	err := recovery.Guard(func() error {
		p, err := algo.NewProcessor(r.config, subject, runLog)
		if err != nil {
			return err
		}

		var runErr error
		res, runErr = p.Run(ctx, r.source)
		if runErr != nil {
			runLog.WithFields(log.Fields{
				"subject":   subject,
				"processed": res.Processed,
			}).WithError(runErr).Error("subject aborted")
		}

		if r.sink != nil && res != nil {
			// Export even when the run was cancelled
			if werr := r.sink.Write(context.WithoutCancel(ctx), run, res); werr != nil {
				return errors.Join(runErr, fmt.Errorf("export subject %s: %w", subject, werr))
			}
		}
		return runErr
	})

	return res, err
}
