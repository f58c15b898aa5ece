package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ivlev/stampdetect/internal/analyzer"
	"github.com/ivlev/stampdetect/internal/config"
	"github.com/ivlev/stampdetect/internal/engine"
	"github.com/ivlev/stampdetect/internal/source"
	"github.com/ivlev/stampdetect/internal/system"
)

// load builds the configuration (file, environment, then flags) and the
// logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = a.dataDir
	}
	if flags.Changed("model") {
		cfg.Model.Variant = a.variant
	}
	cfg.BuildVersion = version
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a.cfg = cfg
	a.logger = logger
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

type pipeline struct {
	processor  *engine.Processor
	detector   *analyzer.Engine
	rasterizer *source.Rasterizer
}

// buildPipeline wires the rasterizer, converter and detection engine into a
// Processor rooted at the configured data directory.
func (a *app) buildPipeline() (*pipeline, error) {
	if err := system.EnsureDataDir(a.cfg.Storage.DataDir); err != nil {
		return nil, err
	}

	detector, err := analyzer.NewEngineFromConfig(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	rasterizer := source.NewRasterizer(a.cfg.PDF.DPI, a.cfg.PDF.MaxPages, a.logger)

	return &pipeline{
		processor:  engine.NewProcessor(a.cfg.Storage.DataDir, rasterizer, source.PNGConverter{}, detector, a.logger),
		detector:   detector,
		rasterizer: rasterizer,
	}, nil
}
