package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for a depgraph process.
type Config struct {
	// ServiceName is the name of the service for telemetry identification.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `koanf:"service_version"`

	// Environment specifies the deployment environment (development, production).
	Environment string `koanf:"environment"`

	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`
	Metrics MetricsConfig `koanf:"metrics"`
	Events  EventsConfig  `koanf:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `koanf:"level"`

	// Format specifies the log format (console, json).
	Format string `koanf:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `koanf:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `koanf:"enable_caller"`

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string `koanf:"time_format"`
}

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled bool `koanf:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `koanf:"exporter"`

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `koanf:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `koanf:"sampling_rate"`

	MaxExportBatchSize int           `koanf:"max_export_batch_size"`
	ExportTimeout      time.Duration `koanf:"export_timeout"`

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string `koanf:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `koanf:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `koanf:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `koanf:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `koanf:"namespace"`

	// Buckets are the computation latency buckets in seconds.
	Buckets []float64 `koanf:"buckets"`
}

// EventsConfig configures the event publishing system.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`

	// BufferSize is the size of the event buffer.
	BufferSize int `koanf:"buffer_size"`

	// FlushInterval is how often buffered events are delivered.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaxBatchSize is the maximum number of events delivered in one batch.
	MaxBatchSize int `koanf:"max_batch_size"`

	// EnableAsync enables asynchronous event delivery.
	EnableAsync bool `koanf:"enable_async"`
}

// DefaultConfig returns a default telemetry configuration.
// Tracing and the metrics endpoint are off; a CLI run is short lived.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "depgraph",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9464",
			Path:          "/metrics",
			Namespace:     "depgraph",
			Buckets: []float64{
				0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
			EnableAsync:   false,
		},
	}
}

// ProductionConfig returns a production-optimized telemetry configuration.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unixms"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.Enabled = true
	cfg.Events.EnableAsync = true
	return cfg
}

// DevelopmentConfig returns a development-optimized telemetry configuration.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
