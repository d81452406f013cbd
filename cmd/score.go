package cmd

import (
	"fmt"

	"github.com/ColonelBlimp/apmetric/internal/results"
	"github.com/ColonelBlimp/apmetric/internal/score"
	"github.com/spf13/cobra"
)

func scoreCmd() *cobra.Command {
	var (
		tolerance int
		start     int
		length    int
	)

	cmd := &cobra.Command{
		Use:   "score <reference ap_list> <hypothesis ap_list>",
		Short: "Score detected spikes against a reference spike list",
		Long: `Compare two spike lists. A hypothesis spike is a true positive when it lies
within tolerance samples of a reference spike. Spikes before --start are
ignored. The recording length defaults to n_buffers x buffer_size.`,
		Example: `apmetric score ref/P1/ap_list.txt outputs/ref/ap_out/corrThresh75/P1/ap_list.txt --tolerance 20`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := length
			if n <= 0 {
				s, err := loadSettings()
				if err != nil {
					return err
				}
				n = s.NBuffers * s.BufferSize
			}

			ref, err := readLocations(args[0])
			if err != nil {
				return err
			}
			hyp, err := readLocations(args[1])
			if err != nil {
				return err
			}

			res, err := score.Spikes(ref, hyp, score.Params{Tolerance: tolerance, Length: n, Start: start})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reference:   %d\n", res.Reference)
			fmt.Fprintf(out, "tp:          %d\n", res.TP)
			fmt.Fprintf(out, "fp:          %d\n", res.FP)
			fmt.Fprintf(out, "sensitivity: %s\n", results.FormatFloat(res.Sensitivity))
			fmt.Fprintf(out, "precision:   %s\n", results.FormatFloat(res.Precision))
			fmt.Fprintf(out, "f1:          %s\n", results.FormatFloat(res.F1))
			return nil
		},
	}

	cmd.Flags().IntVar(&tolerance, "tolerance", 20, "half width in samples of the window around each reference spike")
	cmd.Flags().IntVar(&start, "start", 0, "first sample location scored")
	cmd.Flags().IntVar(&length, "length", 0, "recording length in samples (0 = from config)")
	return cmd
}

func readLocations(path string) ([]int, error) {
	evts, err := results.ReadSpikeLog(path)
	if err != nil {
		return nil, err
	}
	locs := make([]int, len(evts))
	for i, e := range evts {
		locs[i] = e.Location
	}
	return locs, nil
}
