// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName       = "apmetric"
	ConfigType    = "yaml"
	DefaultConfig = `# AP metric configuration

# Input data
sampling_freq: 20000    # Sampling rate of the recorded buffers in Hz
buffer_size: 10000      # Samples per buffer (10000 @ 20kHz = 0.5 s)
n_buffers: 3720         # Buffers per subject
input_format: "F64_LE"  # Buffer file sample format (F64_LE or F32_LE)
input_dir: "outputs/ref/ap_in"
subjects: ["P1", "P2", "P3", "P4", "P5", "P6", "S1", "S2"]

# Spike detection
spike_size: 40                # Spike window length in samples (2 ms), must be even
n_init_templates: 12          # Templates created at bootstrap
template_bootstrap: "peaks"   # peaks | synthetic
correlation_threshold: 0.75   # Minimum |correlation| for a spike candidate (0.0-1.0)
min_spike_distance: 42        # Minimum samples between two accepted spikes
min_amp_rms_ratio: 1          # Reject spikes below this x buffer RMS (noise)
max_amp_rms_ratio: 5          # Reject spikes above this x buffer RMS (artifacts)
max_spikes_per_buffer: 500
max_total_spikes: 0           # 0 = max_spikes_per_buffer * n_buffers

# Template curation
template_sort_idx: 200              # Buffer index at which curation is attempted
template_sort_min_spikes: 100       # Cumulative spikes required before curation runs
template_sort_min_spikes_rel: 0.05  # Keep templates with at least this share of all template spikes
template_min_spikes: 1              # Keep templates with at least this many spikes

# Metric
metric_fg_size: 20      # Foreground window in buffers
metric_bg_size: 180     # Background window in buffers
baseline_end_idx: 700   # Buffer index at which the baseline deviations are frozen

# Seizure events
event_threshold: 20     # Metric threshold
event_min_duration: 2   # Seconds the metric must stay above threshold
event_start_idx: 2400   # First buffer index considered for events

# Output
output_dir: "outputs/ref/ap_out"
sink: "csv"             # csv | sqlite
sqlite_path: "apmetric.db"
workers: 1              # Subjects processed in parallel
debug: false            # Enable debug output
`
)

// Settings holds all application configuration
type Settings struct {
	// Input data
	SamplingFreq float64  `mapstructure:"sampling_freq"`
	BufferSize   int      `mapstructure:"buffer_size"`
	NBuffers     int      `mapstructure:"n_buffers"`
	InputFormat  string   `mapstructure:"input_format"`
	InputDir     string   `mapstructure:"input_dir"`
	Subjects     []string `mapstructure:"subjects"`

	// Spike detection
	SpikeSize            int     `mapstructure:"spike_size"`
	NInitTemplates       int     `mapstructure:"n_init_templates"`
	TemplateBootstrap    string  `mapstructure:"template_bootstrap"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	MinSpikeDistance     int     `mapstructure:"min_spike_distance"`
	MinAmpRMSRatio       float64 `mapstructure:"min_amp_rms_ratio"`
	MaxAmpRMSRatio       float64 `mapstructure:"max_amp_rms_ratio"`
	MaxSpikesPerBuffer   int     `mapstructure:"max_spikes_per_buffer"`
	MaxTotalSpikes       int     `mapstructure:"max_total_spikes"`

	// Template curation
	TemplateSortIdx          int     `mapstructure:"template_sort_idx"`
	TemplateSortMinSpikes    int     `mapstructure:"template_sort_min_spikes"`
	TemplateSortMinSpikesRel float64 `mapstructure:"template_sort_min_spikes_rel"`
	TemplateMinSpikes        int     `mapstructure:"template_min_spikes"`

	// Metric
	MetricFGSize   int `mapstructure:"metric_fg_size"`
	MetricBGSize   int `mapstructure:"metric_bg_size"`
	BaselineEndIdx int `mapstructure:"baseline_end_idx"`

	// Seizure events
	EventThreshold   float64 `mapstructure:"event_threshold"`
	EventMinDuration float64 `mapstructure:"event_min_duration"`
	EventStartIdx    int     `mapstructure:"event_start_idx"`

	// Output
	OutputDir  string `mapstructure:"output_dir"`
	Sink       string `mapstructure:"sink"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Workers    int    `mapstructure:"workers"`
	Debug      bool   `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/apmetric/
func Init() error {
	setDefaults()

	// Support both config.yaml and .config.yaml
	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config found - create default in ~/.config/apmetric/
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("sampling_freq", 20000)
	viper.SetDefault("buffer_size", 10000)
	viper.SetDefault("n_buffers", 3720)
	viper.SetDefault("input_format", "F64_LE")
	viper.SetDefault("input_dir", "outputs/ref/ap_in")
	viper.SetDefault("subjects", []string{"P1", "P2", "P3", "P4", "P5", "P6", "S1", "S2"})
	viper.SetDefault("spike_size", 40)
	viper.SetDefault("n_init_templates", 12)
	viper.SetDefault("template_bootstrap", "peaks")
	viper.SetDefault("correlation_threshold", 0.75)
	viper.SetDefault("min_spike_distance", 42)
	viper.SetDefault("min_amp_rms_ratio", 1.0)
	viper.SetDefault("max_amp_rms_ratio", 5.0)
	viper.SetDefault("max_spikes_per_buffer", 500)
	viper.SetDefault("max_total_spikes", 0)
	viper.SetDefault("template_sort_idx", 200)
	viper.SetDefault("template_sort_min_spikes", 100)
	viper.SetDefault("template_sort_min_spikes_rel", 0.05)
	viper.SetDefault("template_min_spikes", 1)
	viper.SetDefault("metric_fg_size", 20)
	viper.SetDefault("metric_bg_size", 180)
	viper.SetDefault("baseline_end_idx", 700)
	viper.SetDefault("event_threshold", 20.0)
	viper.SetDefault("event_min_duration", 2.0)
	viper.SetDefault("event_start_idx", 2400)
	viper.SetDefault("output_dir", "outputs/ref/ap_out")
	viper.SetDefault("sink", "csv")
	viper.SetDefault("sqlite_path", "apmetric.db")
	viper.SetDefault("workers", 1)
	viper.SetDefault("debug", false)
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// BufferDuration returns the duration of one buffer in seconds.
func (s *Settings) BufferDuration() float64 {
	return float64(s.BufferSize) / s.SamplingFreq
}

// TotalSpikeCapacity returns the bound of the per-subject spike log.
func (s *Settings) TotalSpikeCapacity() int {
	if s.MaxTotalSpikes > 0 {
		return s.MaxTotalSpikes
	}
	return s.MaxSpikesPerBuffer * s.NBuffers
}

// Validate checks that all settings are within acceptable ranges
func (s *Settings) Validate() error {
	var errs []error

	// Input data
	if s.SamplingFreq <= 0 {
		errs = append(errs, fmt.Errorf("sampling_freq must be positive, got %v", s.SamplingFreq))
	}
	if s.NBuffers < 1 {
		errs = append(errs, fmt.Errorf("n_buffers must be at least 1, got %d", s.NBuffers))
	}
	validFormats := map[string]bool{
		"F64_LE": true,
		"F32_LE": true,
	}
	if !validFormats[s.InputFormat] {
		errs = append(errs, fmt.Errorf("input_format must be one of F64_LE, F32_LE, got %q", s.InputFormat))
	}

	// Spike detection
	if s.SpikeSize < 2 || s.SpikeSize%2 != 0 {
		errs = append(errs, fmt.Errorf("spike_size must be a positive even number, got %d", s.SpikeSize))
	}
	if s.BufferSize <= 2*s.SpikeSize {
		errs = append(errs, fmt.Errorf("buffer_size (%d) must be larger than twice spike_size (%d)", s.BufferSize, s.SpikeSize))
	}
	if s.NInitTemplates < 1 || s.NInitTemplates > 255 {
		errs = append(errs, fmt.Errorf("n_init_templates must be between 1 and 255, got %d", s.NInitTemplates))
	}
	if s.TemplateBootstrap != "peaks" && s.TemplateBootstrap != "synthetic" {
		errs = append(errs, fmt.Errorf("template_bootstrap must be peaks or synthetic, got %q", s.TemplateBootstrap))
	}
	if s.CorrelationThreshold < 0.0 || s.CorrelationThreshold > 1.0 {
		errs = append(errs, fmt.Errorf("correlation_threshold must be between 0.0 and 1.0, got %v", s.CorrelationThreshold))
	}
	if s.MinSpikeDistance < 1 {
		errs = append(errs, fmt.Errorf("min_spike_distance must be at least 1, got %d", s.MinSpikeDistance))
	}
	if s.MinAmpRMSRatio < 0 || s.MinAmpRMSRatio >= s.MaxAmpRMSRatio {
		errs = append(errs, fmt.Errorf("min_amp_rms_ratio (%v) must be non-negative and below max_amp_rms_ratio (%v)", s.MinAmpRMSRatio, s.MaxAmpRMSRatio))
	}
	if s.MaxSpikesPerBuffer < 1 {
		errs = append(errs, fmt.Errorf("max_spikes_per_buffer must be at least 1, got %d", s.MaxSpikesPerBuffer))
	}
	if s.MaxTotalSpikes < 0 {
		errs = append(errs, fmt.Errorf("max_total_spikes must be non-negative, got %d", s.MaxTotalSpikes))
	}

	// Template curation
	if s.TemplateSortMinSpikes < 0 {
		errs = append(errs, fmt.Errorf("template_sort_min_spikes must be non-negative, got %d", s.TemplateSortMinSpikes))
	}
	if s.TemplateSortMinSpikesRel < 0.0 || s.TemplateSortMinSpikesRel > 1.0 {
		errs = append(errs, fmt.Errorf("template_sort_min_spikes_rel must be between 0.0 and 1.0, got %v", s.TemplateSortMinSpikesRel))
	}
	if s.TemplateMinSpikes < 0 {
		errs = append(errs, fmt.Errorf("template_min_spikes must be non-negative, got %d", s.TemplateMinSpikes))
	}

	// Metric
	if s.MetricFGSize < 1 {
		errs = append(errs, fmt.Errorf("metric_fg_size must be at least 1, got %d", s.MetricFGSize))
	}
	if s.MetricBGSize < 1 {
		errs = append(errs, fmt.Errorf("metric_bg_size must be at least 1, got %d", s.MetricBGSize))
	}
	if s.TemplateSortIdx < 0 || s.TemplateSortIdx >= s.BaselineEndIdx {
		errs = append(errs, fmt.Errorf("template_sort_idx (%d) must be non-negative and below baseline_end_idx (%d)", s.TemplateSortIdx, s.BaselineEndIdx))
	}
	if s.BaselineEndIdx >= s.NBuffers {
		errs = append(errs, fmt.Errorf("baseline_end_idx (%d) must be below n_buffers (%d)", s.BaselineEndIdx, s.NBuffers))
	}
	// Windows must be full before the baseline is frozen
	if s.TemplateSortIdx+1+s.MetricFGSize+s.MetricBGSize > s.BaselineEndIdx {
		errs = append(errs, fmt.Errorf("template_sort_idx+1+metric_fg_size+metric_bg_size (%d) must not exceed baseline_end_idx (%d)",
			s.TemplateSortIdx+1+s.MetricFGSize+s.MetricBGSize, s.BaselineEndIdx))
	}

	// Seizure events
	if s.EventMinDuration < 0 {
		errs = append(errs, fmt.Errorf("event_min_duration must be non-negative, got %v", s.EventMinDuration))
	}
	if s.EventStartIdx < 0 {
		errs = append(errs, fmt.Errorf("event_start_idx must be non-negative, got %d", s.EventStartIdx))
	}

	// Output
	if s.Sink != "csv" && s.Sink != "sqlite" {
		errs = append(errs, fmt.Errorf("sink must be csv or sqlite, got %q", s.Sink))
	}
	if s.Workers < 1 || s.Workers > 64 {
		errs = append(errs, fmt.Errorf("workers must be between 1 and 64, got %d", s.Workers))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
