package cmd

import (
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"

	"github.com/ColonelBlimp/apmetric/internal/algo"
	"github.com/ColonelBlimp/apmetric/internal/batch"
	"github.com/ColonelBlimp/apmetric/internal/results"
	"github.com/ColonelBlimp/apmetric/internal/signal"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [subject...]",
		Short: "Process the recorded buffers of each subject",
		Long: `Process every buffer of each subject and export amplitude, frequency and
metric per buffer plus the detected spikes. Subjects default to the
configured list. Interrupting the run exports the results processed so far.`,
		Example: `apmetric run
apmetric run P1 P2 --workers 2 --sink sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			subjects := s.Subjects
			if len(args) > 0 {
				subjects = args
			}

			cfg, err := algo.NewConfig(s)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			src, err := signal.NewFileSource(s.InputDir, signal.Format(s.InputFormat), s.BufferSize)
			if err != nil {
				return err
			}
			sink, err := results.NewSink(s.Sink, s.OutputDir, s.SQLitePath)
			if err != nil {
				return err
			}

			ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err = sink.Init(ctx); err != nil {
				return fmt.Errorf("init %s sink: %w", s.Sink, err)
			}
			defer func() {
				if cerr := sink.Close(); cerr != nil {
					log.WithError(cerr).Warn("close result sink")
				}
			}()

			report, err := batch.NewRunner(cfg, src, sink, s.Workers, log.StandardLogger()).Run(ctx, subjects)
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
	}
}

func printReport(cmd *cobra.Command, report *batch.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", report.Run.ID)

	subjects := make([]string, 0, len(report.Results))
	for s := range report.Results {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	for _, s := range subjects {
		res := report.Results[s]
		status := "complete"
		if !res.Complete {
			status = "partial"
		}
		fmt.Fprintf(out, "%-6s %s buffers, %s spikes, %d templates, %s\n",
			s, humanize.Comma(int64(res.Processed)), humanize.Comma(int64(len(res.Spikes))), res.Templates, status)
	}
}
