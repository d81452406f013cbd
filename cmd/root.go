// cmd/root.go
package cmd

import (
	"fmt"
	"os"

	"github.com/ColonelBlimp/apmetric/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "apmetric",
	Short: "Action potential based seizure metric",
	Long: `Detects action potentials in recorded neural signal buffers with an
adaptive template bank and tracks a seizure metric from the amplitude and
firing rate of the detected spikes.`,
	SilenceUsage: true,
}

// flagKeys maps persistent flags to the config keys they override
var flagKeys = map[string]string{
	"input":     "input_dir",
	"output":    "output_dir",
	"sink":      "sink",
	"workers":   "workers",
	"threshold": "correlation_threshold",
	"debug":     "debug",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags (override config file)
	rootCmd.PersistentFlags().StringP("input", "i", "outputs/ref/ap_in", "directory holding <subject>/buffer<N>.bin files")
	rootCmd.PersistentFlags().StringP("output", "o", "outputs/ref/ap_out", "result directory")
	rootCmd.PersistentFlags().String("sink", "csv", "result sink (csv or sqlite)")
	rootCmd.PersistentFlags().IntP("workers", "w", 1, "subjects processed in parallel")
	rootCmd.PersistentFlags().Float64P("threshold", "t", 0.75, "spike correlation threshold (0.0-1.0)")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	rootCmd.AddCommand(runCmd(), eventsCmd(), scoreCmd())
}

func initConfig() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	bindFlags()
}

// bindFlags binds the persistent flags to viper. It runs after config.Init so
// bindings survive a viper reset.
func bindFlags() {
	for flag, key := range flagKeys {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag))
	}
}

// loadSettings reads the validated settings and applies the log level.
func loadSettings() (*config.Settings, error) {
	s, err := config.Get()
	if err != nil {
		return nil, err
	}
	log.SetLevel(log.InfoLevel)
	if s.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return s, nil
}
