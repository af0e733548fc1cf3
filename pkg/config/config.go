package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/ledgerline/depgraph/pkg/stores"
	"github.com/ledgerline/depgraph/pkg/telemetry"
)

// FileName is the optional configuration file read from the working directory.
const FileName = "depgraph.toml"

// EnvPrefix prefixes environment overrides, e.g. DEPGRAPH_LOG_LEVEL=debug.
const EnvPrefix = "DEPGRAPH_"

// Config holds all configuration for a depgraph process. Keys match the
// command line flag names.
type Config struct {
	Database string        `koanf:"db" validate:"required"`
	Model    string        `koanf:"model"`
	Entities []string      `koanf:"entities"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`
	MaxSteps uint64        `koanf:"max-steps"`

	Policies  []string `koanf:"policy"`
	Protected []string `koanf:"protected"`
	Numeric   []string `koanf:"numeric"`

	LogLevel  string `koanf:"log-level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string `koanf:"log-format" validate:"oneof=console json"`

	Metrics        bool   `koanf:"metrics"`
	MetricsAddress string `koanf:"metrics-address" validate:"required_if=Metrics true"`

	Tracing         string `koanf:"tracing" validate:"oneof=none stdout otlp"`
	TracingEndpoint string `koanf:"tracing-endpoint" validate:"required_if=Tracing otlp"`

	Debounce time.Duration `koanf:"debounce" validate:"gte=0"`
}

// Defaults returns the default value of every key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"db":               "depgraph.db",
		"model":            "",
		"entities":         []string{},
		"timeout":          "30s",
		"max-steps":        0,
		"policy":           []string{},
		"protected":        []string{},
		"numeric":          []string{},
		"log-level":        "info",
		"log-format":       "console",
		"metrics":          false,
		"metrics-address":  ":9464",
		"tracing":          "none",
		"tracing-endpoint": "",
		"debounce":         "200ms",
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	return LoadFile(FileName, f)
}

// LoadFile is Load with an explicit configuration file path. A missing file is ignored.
func LoadFile(path string, f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// The file is optional.
	_ = k.Load(file.Provider(path), toml.Parser())

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", "-")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Store returns the store configuration.
func (c *Config) Store() stores.Config {
	return stores.Config{Path: c.Database}
}

// Telemetry returns the telemetry configuration for a process of the given version.
func (c *Config) Telemetry(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.LogLevel
	tc.Logging.Format = c.LogFormat
	tc.Metrics.Enabled = c.Metrics
	tc.Metrics.ListenAddress = c.MetricsAddress
	tc.Tracing.Enabled = c.Tracing != "none"
	tc.Tracing.Exporter = c.Tracing
	tc.Tracing.Endpoint = c.TracingEndpoint
	return tc
}

// RegisterFlags adds the flags Load reads to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db", "depgraph.db", "SQLite database path")
	fs.String("model", "", "Starlark model script")
	fs.StringSlice("entities", nil, "CUE entity files or directories")
	fs.Duration("timeout", 30*time.Second, "model script load timeout")
	fs.Uint64("max-steps", 0, "Starlark steps allowed per computation (0 for unlimited)")
	fs.StringSlice("policy", nil, "Rego policy files or directories")
	fs.StringSlice("protected", nil, "attributes that cannot be set, as Class.attr or attr")
	fs.StringSlice("numeric", nil, "attributes whose values must be numbers")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("log-format", "console", "log format (console, json)")
	fs.Bool("metrics", false, "serve Prometheus metrics")
	fs.String("metrics-address", ":9464", "metrics listen address")
	fs.String("tracing", "none", "trace exporter (none, stdout, otlp)")
	fs.String("tracing-endpoint", "", "OTLP collector endpoint")
	fs.Duration("debounce", 200*time.Millisecond, "watch debounce window")
}

type mapProvider map[string]interface{}

func (p mapProvider) Read() (map[string]interface{}, error) {
	return p, nil
}

func (p mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
