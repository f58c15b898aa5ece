package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	PDF     PDFConfig     `yaml:"pdf"`
	Model   ModelConfig   `yaml:"model"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`

	BuildVersion string `yaml:"-"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	// Parts larger than this spill to disk while parsing multipart bodies.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`
	CORS           bool  `yaml:"cors"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type PDFConfig struct {
	DPI      float64 `yaml:"dpi"`
	MaxPages int     `yaml:"max_pages"` // 0 = no limit
}

type ModelConfig struct {
	Variant       string         `yaml:"variant"` // remote | contrast
	InferenceURL  string         `yaml:"inference_url"`
	HealthURL     string         `yaml:"health_url"`
	Timeout       time.Duration  `yaml:"timeout"`
	MaxConcurrent int            `yaml:"max_concurrent"`
	LabelsPath    string         `yaml:"labels_path"`
	Labels        map[int]string `yaml:"labels"`

	// contrast variant tuning
	MinBlockArea  int     `yaml:"min_block_area"`
	EdgeThreshold float64 `yaml:"edge_threshold"`
	MaxSide       int     `yaml:"max_side"`
}

type OutputConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  50 << 20,
			MaxMemoryBytes:  32 << 20,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		PDF: PDFConfig{
			DPI: 72,
		},
		Model: ModelConfig{
			Variant:       "remote",
			InferenceURL:  "http://localhost:5000/predict",
			Timeout:       60 * time.Second,
			MaxConcurrent: 4,
			MinBlockArea:  400,
			EdgeThreshold: 60,
			MaxSide:       1600,
		},
		Output: OutputConfig{
			JPEGQuality: 95,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
	c.Storage.DataDir = getEnv("DATA_DIR", c.Storage.DataDir)
	c.Model.Variant = getEnv("MODEL_VARIANT", c.Model.Variant)
	c.Model.InferenceURL = getEnv("INFERENCE_URL", c.Model.InferenceURL)
	c.Model.HealthURL = getEnv("INFERENCE_HEALTH_URL", c.Model.HealthURL)
	c.Model.LabelsPath = getEnv("LABELS_PATH", c.Model.LabelsPath)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Model.Timeout, err = getEnvAsDuration("MODEL_TIMEOUT", c.Model.Timeout); err != nil {
		return err
	}
	if c.Model.MaxConcurrent, err = getEnvAsInt("MODEL_MAX_CONCURRENT", c.Model.MaxConcurrent); err != nil {
		return err
	}
	if c.PDF.MaxPages, err = getEnvAsInt("PDF_MAX_PAGES", c.PDF.MaxPages); err != nil {
		return err
	}
	if c.PDF.DPI, err = getEnvAsFloat("PDF_DPI", c.PDF.DPI); err != nil {
		return err
	}
	if c.Server.MaxUploadBytes, err = getEnvAsInt64("MAX_UPLOAD_BYTES", c.Server.MaxUploadBytes); err != nil {
		return err
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	if c.Storage.DataDir == "" {
		return errors.New("config: storage.data_dir is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.PDF.DPI < 0 {
		return fmt.Errorf("config: pdf.dpi must not be negative, got %v", c.PDF.DPI)
	}
	if c.PDF.MaxPages < 0 {
		return fmt.Errorf("config: pdf.max_pages must not be negative, got %d", c.PDF.MaxPages)
	}
	if c.Model.MaxConcurrent < 1 {
		return fmt.Errorf("config: model.max_concurrent must be at least 1, got %d", c.Model.MaxConcurrent)
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("config: output.jpeg_quality must be in 1..100, got %d", c.Output.JPEGQuality)
	}
	switch c.Model.Variant {
	case "remote":
		if c.Model.InferenceURL == "" {
			return errors.New("config: model.inference_url is required for the remote variant")
		}
	case "contrast":
	default:
		return fmt.Errorf("config: unknown model.variant %q", c.Model.Variant)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
