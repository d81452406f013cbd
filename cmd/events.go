package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ColonelBlimp/apmetric/internal/config"
	"github.com/ColonelBlimp/apmetric/internal/events"
	"github.com/ColonelBlimp/apmetric/internal/results"
	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "events [subject...]",
		Short: "Detect seizure events on exported metrics",
		Long: `Detect seizure events on the metric of each subject. An event is reported
once the metric stays above event_threshold for event_min_duration seconds and
lasts until the metric drops again. Only buffers from event_start_idx after
the baseline are searched. Indices and times are relative to the recording start.`,
		Example: `apmetric events P1 P2
apmetric events --sink sqlite --run 6f1c2a4e-0b7d-4c55-9a57-3b1d2f0e9c11`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			subjects := s.Subjects
			if len(args) > 0 {
				subjects = args
			}

			load, closeFn, err := summaryLoader(cmd.Context(), s, runID)
			if err != nil {
				return err
			}
			defer closeFn()

			params := events.Params{
				Threshold:   s.EventThreshold,
				MinDuration: s.EventMinDuration,
				Rate:        1 / s.BufferDuration(),
				StartIdx:    s.EventStartIdx,
				Offset:      s.BaselineEndIdx,
			}

			out := cmd.OutOrStdout()
			for _, subject := range subjects {
				metric, err := load(subject)
				if err != nil {
					return fmt.Errorf("subject %s: %w", subject, err)
				}
				var tail []float64
				if s.BaselineEndIdx < len(metric) {
					tail = metric[s.BaselineEndIdx:]
				}
				evts, err := events.Detect(tail, params)
				if err != nil {
					return err
				}

				var flagged int
				for _, v := range events.Mask(evts, len(metric), 0) {
					flagged += v
				}
				fmt.Fprintf(out, "%s: %d events, %.1fs flagged\n", subject, len(evts), float64(flagged)*s.BufferDuration())
				for _, e := range evts {
					fmt.Fprintf(out, "  buffers %d-%d  %.1fs-%.1fs\n", e.Start, e.End, e.StartTime, e.EndTime)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID to read from the SQLite sink")
	return cmd
}

// summaryLoader returns a function reading the metric series of a subject
// from the configured sink.
func summaryLoader(ctx context.Context, s *config.Settings, runID string) (func(string) ([]float64, error), func(), error) {
	switch s.Sink {
	case results.SinkSQLite:
		if runID == "" {
			return nil, nil, errors.New("--run is required with the sqlite sink")
		}
		db := results.NewSQLiteSink(s.SQLitePath)
		if err := db.Init(ctx); err != nil {
			return nil, nil, err
		}
		load := func(subject string) ([]float64, error) {
			summary, _, err := db.LoadSummary(ctx, runID, subject)
			return summary.Metric, err
		}
		return load, func() { _ = db.Close() }, nil
	default:
		csvSink := results.NewCSVSink(s.OutputDir)
		run := results.RunInfo{CorrelationThreshold: s.CorrelationThreshold}
		load := func(subject string) ([]float64, error) {
			summary, err := results.ReadSummary(filepath.Join(csvSink.SubjectDir(run, subject), results.SummaryFile))
			return summary.Metric, err
		}
		return load, func() {}, nil
	}
}
