package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
}

// setupConfigHome points the XDG config lookup at a temp directory
func setupConfigHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func writeXDGConfig(t *testing.T, home, name, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", AppName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, name), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestInit_WithDefaults(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	intTests := []struct {
		key      string
		expected int
	}{
		{"buffer_size", 10000},
		{"n_buffers", 3720},
		{"spike_size", 40},
		{"n_init_templates", 12},
		{"min_spike_distance", 42},
		{"max_spikes_per_buffer", 500},
		{"template_sort_idx", 200},
		{"template_sort_min_spikes", 100},
		{"metric_fg_size", 20},
		{"metric_bg_size", 180},
		{"baseline_end_idx", 700},
		{"event_start_idx", 2400},
		{"workers", 1},
	}
	for _, tt := range intTests {
		t.Run(tt.key, func(t *testing.T) {
			if got := viper.GetInt(tt.key); got != tt.expected {
				t.Errorf("viper.GetInt(%q) = %d, want %d", tt.key, got, tt.expected)
			}
		})
	}

	floatTests := []struct {
		key      string
		expected float64
	}{
		{"sampling_freq", 20000},
		{"correlation_threshold", 0.75},
		{"min_amp_rms_ratio", 1},
		{"max_amp_rms_ratio", 5},
		{"template_sort_min_spikes_rel", 0.05},
		{"event_threshold", 20},
		{"event_min_duration", 2},
	}
	for _, tt := range floatTests {
		t.Run(tt.key, func(t *testing.T) {
			if got := viper.GetFloat64(tt.key); got != tt.expected {
				t.Errorf("viper.GetFloat64(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	if got := viper.GetString("input_format"); got != "F64_LE" {
		t.Errorf("input_format = %q, want F64_LE", got)
	}
	if got := viper.GetStringSlice("subjects"); len(got) != 8 {
		t.Errorf("subjects = %v, want 8 entries", got)
	}
}

func TestInit_CreatesConfigIfMissing(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	configPath := filepath.Join(home, ".config", AppName, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Init() did not create config file at %s", configPath)
	}
}

func TestInit_ReadsLocalConfigFirst(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", "workers: 2")

	origDir, _ := os.Getwd()
	if err := os.Chdir(home); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Logf("failed to restore dir: %v", err)
		}
	}()

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("workers: 4"), 0644); err != nil {
		t.Fatalf("failed to write local config: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("workers"); got != 4 {
		t.Errorf("viper.GetInt(workers) = %d, want 4 (local config)", got)
	}
}

func TestInit_DotConfigTakesPrecedence(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", "n_buffers: 1000")
	writeXDGConfig(t, home, ".config.yaml", "n_buffers: 2000")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("n_buffers"); got != 2000 {
		t.Errorf("viper.GetInt(n_buffers) = %d, want 2000 (.config.yaml)", got)
	}
}

func TestInit_InvalidConfigFile(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", "invalid: yaml: content: [[[")

	if err := Init(); err == nil {
		t.Error("Init() should return error for invalid YAML")
	}
}

func TestGet_ReturnsSettings(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.BufferSize != 10000 {
		t.Errorf("Settings.BufferSize = %d, want 10000", settings.BufferSize)
	}
	if settings.SamplingFreq != 20000 {
		t.Errorf("Settings.SamplingFreq = %v, want 20000", settings.SamplingFreq)
	}
	if settings.CorrelationThreshold != 0.75 {
		t.Errorf("Settings.CorrelationThreshold = %v, want 0.75", settings.CorrelationThreshold)
	}
	if settings.Sink != "csv" {
		t.Errorf("Settings.Sink = %q, want csv", settings.Sink)
	}
	if settings.BufferDuration() != 0.5 {
		t.Errorf("BufferDuration() = %v, want 0.5", settings.BufferDuration())
	}
	if settings.TotalSpikeCapacity() != 500*3720 {
		t.Errorf("TotalSpikeCapacity() = %d, want %d", settings.TotalSpikeCapacity(), 500*3720)
	}
}

func TestGet_InvalidSettings(t *testing.T) {
	resetViper()
	home := setupConfigHome(t)
	writeXDGConfig(t, home, "config.yaml", "correlation_threshold: 1.5\nsink: kafka\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, err := Get()
	if err == nil {
		t.Fatal("Get() should fail validation")
	}
	for _, key := range []string{"correlation_threshold", "sink"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("Get() error should mention %q, got: %v", key, err)
		}
	}
}

func TestEnsureConfigExists_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config")

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != DefaultConfig {
		t.Errorf("config content does not match DefaultConfig")
	}
}

func TestEnsureConfigExists_DoesNotOverwrite(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")
	existingContent := "existing: true"
	if err := os.WriteFile(configFile, []byte(existingContent), 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	if err := ensureConfigExists(tmpDir); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != existingContent {
		t.Errorf("ensureConfigExists() overwrote existing config")
	}
}

func TestDefaultConfig_ContainsExpectedKeys(t *testing.T) {
	expectedKeys := []string{
		"sampling_freq",
		"buffer_size",
		"n_buffers",
		"input_format",
		"spike_size",
		"n_init_templates",
		"template_bootstrap",
		"correlation_threshold",
		"min_spike_distance",
		"min_amp_rms_ratio",
		"max_amp_rms_ratio",
		"template_sort_idx",
		"template_sort_min_spikes",
		"template_sort_min_spikes_rel",
		"metric_fg_size",
		"metric_bg_size",
		"baseline_end_idx",
		"sink",
		"workers",
		"debug",
	}

	for _, key := range expectedKeys {
		if !strings.Contains(DefaultConfig, key) {
			t.Errorf("DefaultConfig missing key: %s", key)
		}
	}
}

func TestSettings_Validate_ValidSettings(t *testing.T) {
	if err := validSettings().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil for valid settings", err)
	}
}

func TestSettings_Validate_SpikeSize(t *testing.T) {
	tests := []struct {
		name      string
		spikeSize int
		wantErr   bool
	}{
		{"zero", 0, true},
		{"odd", 41, true},
		{"minimum", 2, false},
		{"typical", 40, false},
		{"too large for buffer", 5000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.SpikeSize = tt.spikeSize
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_CorrelationThreshold(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{"negative", -0.1, true},
		{"zero", 0.0, false},
		{"typical", 0.75, false},
		{"one", 1.0, false},
		{"too high", 1.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.CorrelationThreshold = tt.threshold
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_AmplitudeRatios(t *testing.T) {
	tests := []struct {
		name    string
		min     float64
		max     float64
		wantErr bool
	}{
		{"typical", 1, 5, false},
		{"zero min", 0, 5, false},
		{"equal", 3, 3, true},
		{"inverted", 5, 1, true},
		{"negative min", -1, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.MinAmpRMSRatio = tt.min
			s.MaxAmpRMSRatio = tt.max
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_PhaseSchedule(t *testing.T) {
	tests := []struct {
		name        string
		sortIdx     int
		baselineEnd int
		nBuffers    int
		wantErr     bool
	}{
		{"reference schedule", 200, 700, 3720, false},
		{"windows just fit", 200, 401, 3720, false},
		{"windows overflow baseline", 200, 400, 3720, true},
		{"sort after baseline", 800, 700, 3720, true},
		{"baseline after recording", 200, 4000, 3720, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			s.TemplateSortIdx = tt.sortIdx
			s.BaselineEndIdx = tt.baselineEnd
			s.NBuffers = tt.nBuffers
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_Format(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
	}{
		{"F64_LE", false},
		{"F32_LE", false},
		{"S16_LE", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s := validSettings()
			s.InputFormat = tt.format
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_Validate_MultipleErrors(t *testing.T) {
	s := &Settings{
		SamplingFreq:         0,     // invalid
		NBuffers:             0,     // invalid
		InputFormat:          "bad", // invalid
		SpikeSize:            3,     // invalid
		TemplateBootstrap:    "?",   // invalid
		CorrelationThreshold: 2.0,   // invalid
		MinSpikeDistance:     0,     // invalid
		MaxSpikesPerBuffer:   0,     // invalid
		MetricFGSize:         0,     // invalid
		MetricBGSize:         0,     // invalid
		Sink:                 "bad", // invalid
		Workers:              0,     // invalid
	}

	err := s.Validate()
	if err == nil {
		t.Fatal("Validate() should return error for multiple invalid fields")
	}

	expectedSubstrings := []string{
		"sampling_freq",
		"n_buffers",
		"input_format",
		"spike_size",
		"template_bootstrap",
		"correlation_threshold",
		"min_spike_distance",
		"max_spikes_per_buffer",
		"metric_fg_size",
		"metric_bg_size",
		"sink",
		"workers",
	}
	for _, substr := range expectedSubstrings {
		if !strings.Contains(err.Error(), substr) {
			t.Errorf("Validate() error should mention %q, got: %v", substr, err)
		}
	}
}

func TestSettings_TotalSpikeCapacity(t *testing.T) {
	s := validSettings()
	s.MaxTotalSpikes = 1234
	if got := s.TotalSpikeCapacity(); got != 1234 {
		t.Errorf("TotalSpikeCapacity() = %d, want 1234", got)
	}
}

// validSettings returns a Settings struct with all valid values
func validSettings() *Settings {
	return &Settings{
		SamplingFreq:             20000,
		BufferSize:               10000,
		NBuffers:                 3720,
		InputFormat:              "F64_LE",
		InputDir:                 "in",
		Subjects:                 []string{"P1"},
		SpikeSize:                40,
		NInitTemplates:           12,
		TemplateBootstrap:        "peaks",
		CorrelationThreshold:     0.75,
		MinSpikeDistance:         42,
		MinAmpRMSRatio:           1,
		MaxAmpRMSRatio:           5,
		MaxSpikesPerBuffer:       500,
		TemplateSortIdx:          200,
		TemplateSortMinSpikes:    100,
		TemplateSortMinSpikesRel: 0.05,
		TemplateMinSpikes:        1,
		MetricFGSize:             20,
		MetricBGSize:             180,
		BaselineEndIdx:           700,
		EventThreshold:           20,
		EventMinDuration:         2,
		EventStartIdx:            2400,
		OutputDir:                "out",
		Sink:                     "csv",
		SQLitePath:               "apmetric.db",
		Workers:                  1,
	}
}
