// Package config provides the configuration schema and loader for the
// LyraScribe transcription service.
package config

import (
	"github.com/lyrascribe/lyrascribe/internal/pricing"
	"github.com/lyrascribe/lyrascribe/internal/vad"
	"github.com/lyrascribe/lyrascribe/internal/worker"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Broker   BrokerConfig   `yaml:"broker"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Pricing  PricingConfig  `yaml:"pricing"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the gateway listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// BrokerConfig points at the redis instance backing the job queue and the
// event bus.
type BrokerConfig struct {
	// URL is a redis:// or rediss:// connection string. Overridable via
	// the LYRASCRIBE_BROKER_URL environment variable.
	URL string `yaml:"url"`
}

// DatabaseConfig points at the PostgreSQL job log.
type DatabaseConfig struct {
	// URL is a postgres:// connection string. Overridable via the
	// LYRASCRIBE_DATABASE_URL environment variable. When empty, job rows
	// are kept in process memory only.
	URL string `yaml:"url"`
}

// PipelineConfig tunes the worker pipeline.
type PipelineConfig struct {
	// ScratchDir is the root of per-job scratch storage. Overridable via
	// the LYRASCRIBE_SCRATCH_DIR environment variable.
	ScratchDir string `yaml:"scratch_dir"`

	// WorkerConcurrency is the number of jobs processed in parallel.
	WorkerConcurrency int `yaml:"worker_concurrency"`

	// SplitThresholdSeconds is the artifact duration above which a failed
	// transcription is retried by splitting at silence.
	SplitThresholdSeconds float64 `yaml:"split_threshold_seconds"`

	// MinSilenceSeconds is the minimum silence gap considered a split
	// candidate.
	MinSilenceSeconds float64 `yaml:"min_silence_seconds"`

	// FetchPoolSize bounds concurrent remote media downloads.
	FetchPoolSize int `yaml:"fetch_pool_size"`

	// FetchMaxBytes caps the size of one remote download.
	FetchMaxBytes int64 `yaml:"fetch_max_bytes"`
}

// PricingConfig overrides the compiled-in price book.
type PricingConfig struct {
	// Models maps model ids to per-million-token prices. When empty the
	// default book is used. Admission rejects models absent from the
	// active book.
	Models map[string]pricing.Price `yaml:"models"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Broker.URL == "" {
		c.Broker.URL = "redis://localhost:6379/0"
	}
	if c.Pipeline.ScratchDir == "" {
		c.Pipeline.ScratchDir = "scratch"
	}
	if c.Pipeline.WorkerConcurrency <= 0 {
		c.Pipeline.WorkerConcurrency = 2
	}
	if c.Pipeline.SplitThresholdSeconds <= 0 {
		c.Pipeline.SplitThresholdSeconds = worker.DefaultSplitThreshold
	}
	if c.Pipeline.MinSilenceSeconds <= 0 {
		c.Pipeline.MinSilenceSeconds = vad.DefaultMinSilence
	}
	if c.Pipeline.FetchPoolSize <= 0 {
		c.Pipeline.FetchPoolSize = 4
	}
}

// Book returns the active price book: the configured models when present,
// the compiled-in defaults otherwise.
func (c *Config) Book() pricing.Book {
	if len(c.Pricing.Models) == 0 {
		return pricing.DefaultBook()
	}
	book := make(pricing.Book, len(c.Pricing.Models))
	for model, price := range c.Pricing.Models {
		book[model] = price
	}
	return book
}
