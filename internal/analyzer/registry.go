package analyzer

import (
	"fmt"
	"log/slog"

	"github.com/ivlev/stampdetect/internal/config"
)

// NewModel creates a model based on the configured variant.
func NewModel(cfg config.ModelConfig, logger *slog.Logger) (Model, error) {
	switch cfg.Variant {
	case "remote", "":
		return NewRemoteModel(cfg.InferenceURL, cfg.HealthURL, nil, logger)
	case "contrast":
		return NewContrastModel(cfg.MinBlockArea, cfg.EdgeThreshold, cfg.MaxSide), nil
	default:
		return nil, fmt.Errorf("unknown model variant: %s", cfg.Variant)
	}
}

// LabelsFromConfig returns the label table for cfg: the labels file if set,
// else inline labels, else the default table.
func LabelsFromConfig(cfg config.ModelConfig) (LabelTable, error) {
	if cfg.LabelsPath != "" {
		return LoadLabels(cfg.LabelsPath)
	}
	if len(cfg.Labels) > 0 {
		t := make(LabelTable, len(cfg.Labels))
		for k, v := range cfg.Labels {
			t[k] = v
		}
		return t, nil
	}
	return DefaultLabels(), nil
}

// NewEngineFromConfig builds the model and wraps it in an Engine configured
// from cfg.
func NewEngineFromConfig(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	model, err := NewModel(cfg.Model, logger)
	if err != nil {
		return nil, err
	}
	labels, err := LabelsFromConfig(cfg.Model)
	if err != nil {
		return nil, err
	}
	return NewEngine(model,
		WithLabels(labels),
		WithTimeout(cfg.Model.Timeout),
		WithMaxConcurrent(cfg.Model.MaxConcurrent),
		WithJPEGQuality(cfg.Output.JPEGQuality),
		WithLogger(logger),
	), nil
}
