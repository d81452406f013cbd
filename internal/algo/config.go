package algo

import (
	"github.com/ColonelBlimp/apmetric/internal/config"
	"github.com/ColonelBlimp/apmetric/internal/dsp"
	"github.com/ColonelBlimp/apmetric/internal/metric"
	"github.com/ColonelBlimp/apmetric/internal/phase"
	"github.com/ColonelBlimp/apmetric/internal/template"
)

// Config holds everything a Processor needs for one subject.
type Config struct {
	Detector dsp.DetectorConfig
	Phase    phase.Config
	Metric   metric.Config

	// NTemplates is the initial bank size (from config: n_init_templates)
	NTemplates int
	// Bootstrap derives the initial bank from the first buffer (from config: template_bootstrap)
	Bootstrap template.BootstrapFunc
	// Curation decides which templates survive the sort event
	Curation template.CurationPolicy
	// MaxTotalSpikes bounds the subject's spike log
	MaxTotalSpikes int
}

// NewConfig builds a processor configuration from application settings.
func NewConfig(s *config.Settings) (Config, error) {
	bootstrap, err := template.BootstrapByName(s.TemplateBootstrap)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Detector: dsp.DetectorConfig{
			BufferSize:       s.BufferSize,
			SpikeSize:        s.SpikeSize,
			Threshold:        s.CorrelationThreshold,
			MinSpikeDistance: s.MinSpikeDistance,
			MinAmpRMSRatio:   s.MinAmpRMSRatio,
			MaxAmpRMSRatio:   s.MaxAmpRMSRatio,
			MaxSpikes:        s.MaxSpikesPerBuffer,
		},
		Phase: phase.Config{
			SortIndex:      s.TemplateSortIdx,
			MinSpikes:      s.TemplateSortMinSpikes,
			ForegroundSize: s.MetricFGSize,
			BackgroundSize: s.MetricBGSize,
			BaselineEnd:    s.BaselineEndIdx,
		},
		Metric: metric.Config{
			ForegroundSize: s.MetricFGSize,
			BackgroundSize: s.MetricBGSize,
			BaselineEnd:    s.BaselineEndIdx,
			NBuffers:       s.NBuffers,
			BufferDuration: s.BufferDuration(),
		},
		NTemplates:     s.NInitTemplates,
		Bootstrap:      bootstrap,
		Curation:       template.ThresholdPolicy(s.TemplateMinSpikes, s.TemplateSortMinSpikesRel),
		MaxTotalSpikes: s.TotalSpikeCapacity(),
	}, nil
}
