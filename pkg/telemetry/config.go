// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the hostforge convergence engine.
package telemetry

import "time"

// LoggingConfig configures the zerolog-based logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `json:"level"`

	// Format is the output format: "json" or "console".
	Format string `json:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `json:"output"`

	// EnableCaller adds the caller file:line to each entry.
	EnableCaller bool `json:"enable_caller"`
}

// DefaultLoggingConfig returns the logging defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	// Enabled toggles metric collection.
	Enabled bool `json:"enabled"`

	// Namespace is the metric name prefix.
	Namespace string `json:"namespace"`

	// Addr is the listen address for the /metrics endpoint; empty
	// disables the HTTP exposition.
	Addr string `json:"addr"`
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "hostforge",
	}
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	// Enabled toggles span export.
	Enabled bool `json:"enabled"`

	// Exporter is "stdout" or "otlp".
	Exporter string `json:"exporter"`

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string `json:"endpoint"`

	// Insecure disables TLS on the OTLP connection.
	Insecure bool `json:"insecure"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64 `json:"sampling_rate"`

	// ExportTimeout bounds each export batch.
	ExportTimeout time.Duration `json:"export_timeout"`
}

// DefaultTracingConfig returns the tracing defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:       false,
		Exporter:      "stdout",
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
}
