package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration.
const (
	EnvBrokerURL   = "LYRASCRIBE_BROKER_URL"
	EnvDatabaseURL = "LYRASCRIBE_DATABASE_URL"
	EnvScratchDir  = "LYRASCRIBE_SCRATCH_DIR"
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config]. A missing file
// is not an error; the defaults then stand alone.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{}
		applyEnv(cfg)
		cfg.ApplyDefaults()
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Environment wins over
// the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBrokerURL); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv(EnvScratchDir); v != "" {
		cfg.Pipeline.ScratchDir = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if cfg.Pipeline.WorkerConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.worker_concurrency %d must not be negative", cfg.Pipeline.WorkerConcurrency))
	}
	if cfg.Pipeline.SplitThresholdSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.split_threshold_seconds %.1f must not be negative", cfg.Pipeline.SplitThresholdSeconds))
	}
	if cfg.Pipeline.MinSilenceSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_silence_seconds %.2f must not be negative", cfg.Pipeline.MinSilenceSeconds))
	}
	for model, price := range cfg.Pricing.Models {
		if price.InputText < 0 || price.InputAudio < 0 || price.OutputText < 0 {
			errs = append(errs, fmt.Errorf("pricing.models[%s] has a negative rate", model))
		}
	}

	return errors.Join(errs...)
}
