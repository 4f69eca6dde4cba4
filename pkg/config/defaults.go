package config

import "time"

// Checkpoint defaults.
const (
	DefaultCheckpointEnabled   = true
	DefaultCheckpointBackend   = "dir"
	DefaultCheckpointLocation  = ""
	DefaultCheckpointNamespace = ""
	DefaultCheckpointCodec     = "json"
	DefaultCheckpointCompress  = false
	DefaultCheckpointInterval  = 60 * time.Second
	DefaultCheckpointResume    = true
	DefaultCheckpointClearPrev = false
)

// Source defaults.
const (
	DefaultSourcePageSize = 1000
)

// Logging defaults.
const (
	DefaultLoggingLevel = "info"
	DefaultLoggingJSON  = false
)

// Telemetry defaults.
const (
	DefaultTelemetryOTLPEndpoint  = ""
	DefaultTelemetryOTLPInsecure  = false
	DefaultTelemetryMetricsAddr   = ""
	DefaultTelemetryDebugTrace    = false
	DefaultTelemetrySampleRatio   = 0.0
	DefaultTelemetryEnvironment   = ""
	DefaultTelemetryShutdownDelay = 5 * time.Second
)

// Output defaults.
const (
	DefaultOutputFormat = "json"
)
