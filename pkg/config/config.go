// Package config loads the fieldagg tool configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/fieldagg/pkg/kvstore"
	"github.com/Sumatoshi-tech/fieldagg/pkg/persist"
)

// Formats lists the accepted output.format values.
var Formats = []string{"json", "yaml", "text", "plot"}

// Config is the top-level configuration struct for fieldagg.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Source     SourceConfig     `mapstructure:"source"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Output     OutputConfig     `mapstructure:"output"`
}

// CheckpointConfig holds checkpoint settings.
type CheckpointConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	// Location is a directory for "dir" and a database file for "bolt" and
	// "sqlite". Empty selects a path under the default checkpoint directory.
	Location string `mapstructure:"location"`
	// Namespace separates checkpoints of different inputs in one store.
	// Empty derives it from the dataset id.
	Namespace string        `mapstructure:"namespace"`
	Codec     string        `mapstructure:"codec"`
	Compress  bool          `mapstructure:"compress"`
	Interval  time.Duration `mapstructure:"interval"`
	Resume    bool          `mapstructure:"resume"`
	ClearPrev bool          `mapstructure:"clear_prev"`
}

// SourceConfig holds record source settings.
type SourceConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig holds tracing and metrics settings.
type TelemetryConfig struct {
	OTLPEndpoint  string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure  bool          `mapstructure:"otlp_insecure"`
	OTLPHeaders   string        `mapstructure:"otlp_headers"`
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	DebugTrace    bool          `mapstructure:"debug_trace"`
	SampleRatio   float64       `mapstructure:"sample_ratio"`
	Environment   string        `mapstructure:"environment"`
	ShutdownDelay time.Duration `mapstructure:"shutdown_delay"`
}

// OutputConfig holds result rendering settings.
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// Sentinel errors for configuration validation.
var (
	// ErrInvalidBackend indicates an unknown checkpoint.backend.
	ErrInvalidBackend = errors.New("checkpoint.backend is not supported")
	// ErrInvalidCodec indicates an unknown checkpoint.codec.
	ErrInvalidCodec = errors.New("checkpoint.codec is not supported")
	// ErrInvalidInterval indicates a non-positive checkpoint.interval.
	ErrInvalidInterval = errors.New("checkpoint.interval must be positive")
	// ErrInvalidPageSize indicates a non-positive source.page_size.
	ErrInvalidPageSize = errors.New("source.page_size must be positive")
	// ErrInvalidFormat indicates an unknown output.format.
	ErrInvalidFormat = errors.New("output.format is not supported")
	// ErrInvalidSampleRatio indicates telemetry.sample_ratio is out of range.
	ErrInvalidSampleRatio = errors.New("telemetry.sample_ratio must be between 0 and 1")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	checkpointErr := c.validateCheckpoint()
	if checkpointErr != nil {
		return checkpointErr
	}

	if c.Source.PageSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, c.Source.PageSize)
	}

	if !slices.Contains(Formats, c.Output.Format) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, c.Output.Format)
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	return nil
}

func (c *Config) validateCheckpoint() error {
	if !slices.Contains(kvstore.Backends(), c.Checkpoint.Backend) {
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Checkpoint.Backend)
	}

	_, err := persist.CodecByName(c.Checkpoint.Codec, c.Checkpoint.Compress)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCodec, c.Checkpoint.Codec)
	}

	if c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Checkpoint.Interval)
	}

	return nil
}
