// Package batchconfig loads and validates the batch execution settings.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, and environment variables:
//
//	BATCH_SIZE          records per batch (default 1000)
//	BATCH_DELAY         milliseconds to wait between batches (default 500)
//	MAX_BATCHES         cap on processed batches (default unset)
//	OUTPUT_DIRECTORY    local directory or s3:// URI for reports (default "results")
//	OUTPUT_COMPRESSION  "", "gzip" or "zstd" (default "")
package batchconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvBatchSize         = "BATCH_SIZE"
	EnvBatchDelay        = "BATCH_DELAY"
	EnvMaxBatches        = "MAX_BATCHES"
	EnvOutputDirectory   = "OUTPUT_DIRECTORY"
	EnvOutputCompression = "OUTPUT_COMPRESSION"
)

// Defaults.
const (
	DefaultBatchSize       = 1000
	DefaultDelay           = 500 * time.Millisecond
	DefaultOutputDirectory = "results"
)

// Supported report compressions.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// BatchConfig is the immutable configuration of one run.
type BatchConfig struct {
	// BatchSize is the number of records per batch.
	BatchSize int
	// ProcessingDelay is the pause inserted between consecutive batches.
	ProcessingDelay time.Duration
	// MaxBatches caps how many batches are processed. Zero means no cap.
	MaxBatches int
	// OutputDirectory is where reports are written.
	OutputDirectory string
	// Compression selects the report file compression.
	Compression string
}

// Default returns the built-in configuration.
func Default() BatchConfig {
	return BatchConfig{
		BatchSize:       DefaultBatchSize,
		ProcessingDelay: DefaultDelay,
		OutputDirectory: DefaultOutputDirectory,
	}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load returns the default configuration overridden by the environment
// exposed through lookup. It has no side effects, so identical input
// always yields equal values.
func Load(lookup LookupFunc) (BatchConfig, error) {
	return Default().ApplyEnv(lookup)
}

// fileConfig is the YAML layout of a config file.
type fileConfig struct {
	BatchSize         *int    `yaml:"batch_size"`
	BatchDelayMs      *int64  `yaml:"batch_delay_ms"`
	MaxBatches        *int    `yaml:"max_batches"`
	OutputDirectory   *string `yaml:"output_directory"`
	OutputCompression *string `yaml:"output_compression"`
}

// LoadFile reads a YAML config file on top of the defaults and then applies
// the environment. An empty path skips the file.
func LoadFile(path string, lookup LookupFunc) (BatchConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return BatchConfig{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return BatchConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		cfg = fc.apply(cfg)
	}
	return cfg.ApplyEnv(lookup)
}

func (fc fileConfig) apply(cfg BatchConfig) BatchConfig {
	if fc.BatchSize != nil {
		cfg.BatchSize = *fc.BatchSize
	}
	if fc.BatchDelayMs != nil {
		cfg.ProcessingDelay = time.Duration(*fc.BatchDelayMs) * time.Millisecond
	}
	if fc.MaxBatches != nil {
		cfg.MaxBatches = *fc.MaxBatches
	}
	if fc.OutputDirectory != nil {
		cfg.OutputDirectory = *fc.OutputDirectory
	}
	if fc.OutputCompression != nil {
		cfg.Compression = *fc.OutputCompression
	}
	return cfg
}

// ApplyEnv returns a copy of cfg with every variable present in lookup applied.
// Empty values are treated as unset.
func (c BatchConfig) ApplyEnv(lookup LookupFunc) (BatchConfig, error) {
	if lookup == nil {
		return c, nil
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return BatchConfig{}, &ConfigurationError{Field: EnvBatchSize, Value: v, Reason: "not an integer"}
		}
		c.BatchSize = n
	}
	if v, ok := get(EnvBatchDelay); ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return BatchConfig{}, &ConfigurationError{Field: EnvBatchDelay, Value: v, Reason: "not an integer"}
		}
		c.ProcessingDelay = time.Duration(ms) * time.Millisecond
	}
	if v, ok := get(EnvMaxBatches); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return BatchConfig{}, &ConfigurationError{Field: EnvMaxBatches, Value: v, Reason: "not an integer"}
		}
		if n == 0 {
			return BatchConfig{}, &ConfigurationError{Field: EnvMaxBatches, Value: v, Reason: "must be greater than 0 when set"}
		}
		c.MaxBatches = n
	}
	if v, ok := get(EnvOutputDirectory); ok {
		c.OutputDirectory = v
	}
	if v, ok := get(EnvOutputCompression); ok {
		c.Compression = strings.ToLower(v)
	}
	return c, nil
}

// Validate checks the invariants that must hold before any query runs.
func (c BatchConfig) Validate() error {
	if c.BatchSize <= 0 {
		return &ConfigurationError{Field: EnvBatchSize, Value: strconv.Itoa(c.BatchSize), Reason: "must be greater than 0"}
	}
	if c.ProcessingDelay < 0 {
		return &ConfigurationError{Field: EnvBatchDelay, Value: strconv.FormatInt(c.ProcessingDelay.Milliseconds(), 10), Reason: "must not be negative"}
	}
	if c.MaxBatches < 0 {
		return &ConfigurationError{Field: EnvMaxBatches, Value: strconv.Itoa(c.MaxBatches), Reason: "must be greater than 0 when set"}
	}
	switch c.Compression {
	case CompressionNone, CompressionGzip, CompressionZstd:
	default:
		return &ConfigurationError{Field: EnvOutputCompression, Value: c.Compression, Reason: "must be gzip or zstd"}
	}
	return nil
}

// HasMaxBatches reports whether a batch cap is set.
func (c BatchConfig) HasMaxBatches() bool {
	return c.MaxBatches > 0
}

// WithoutLimit returns a copy with the batch cap removed.
func (c BatchConfig) WithoutLimit() BatchConfig {
	c.MaxBatches = 0
	return c
}

// ConfigurationError reports an invalid batch setting.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid batch configuration: %s=%q %s", e.Field, e.Value, e.Reason)
}
