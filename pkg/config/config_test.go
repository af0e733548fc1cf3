package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"), newFlags(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database != "depgraph.db" {
		t.Errorf("Expected default db, got %s", cfg.Database)
	}
	if cfg.Debounce != 200*time.Millisecond {
		t.Errorf("Expected debounce 200ms, got %v", cfg.Debounce)
	}
	if cfg.LogLevel != "info" || cfg.Tracing != "none" || cfg.Metrics {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depgraph.toml")
	content := `
db = "file.db"
log-level = "debug"
model = "model.star"
protected = ["Stock.price"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("DEPGRAPH_LOG_LEVEL", "warn")
	t.Setenv("DEPGRAPH_MAX_STEPS", "5000")

	cfg, err := LoadFile(path, newFlags(t, "--db", "flag.db"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "flag beats file", got: cfg.Database, want: "flag.db"},
		{name: "env beats file", got: cfg.LogLevel, want: "warn"},
		{name: "file beats default", got: cfg.Model, want: "model.star"},
		{name: "env only", got: cfg.MaxSteps, want: uint64(5000)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, tt.got)
		}
	}
	if len(cfg.Protected) != 1 || cfg.Protected[0] != "Stock.price" {
		t.Errorf("Expected protected from file, got %v", cfg.Protected)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "log level", args: []string{"--log-level", "loud"}},
		{name: "otlp without endpoint", args: []string{"--tracing", "otlp"}},
		{name: "unknown exporter", args: []string{"--tracing", "zipkin"}},
		{name: "empty db", args: []string{"--db", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"), newFlags(t, tt.args...)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_Telemetry(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "none.toml"),
		newFlags(t, "--metrics", "--tracing", "stdout", "--log-format", "json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tc := cfg.Telemetry("1.2.3")
	if err := tc.Validate(); err != nil {
		t.Fatalf("Telemetry config invalid: %v", err)
	}
	if !tc.Metrics.Enabled || !tc.Tracing.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("Unexpected telemetry config: %+v", tc)
	}
	if tc.ServiceVersion != "1.2.3" || tc.Logging.Format != "json" {
		t.Errorf("Unexpected telemetry service config: %+v", tc)
	}
	if cfg.Store().Path != "depgraph.db" {
		t.Errorf("Expected store path depgraph.db, got %s", cfg.Store().Path)
	}
}
