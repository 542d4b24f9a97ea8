// Package config loads the service configuration from YAML with sensible
// defaults and environment overrides for secrets and connection strings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	// Listen is the address the API binds to, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Driver is "sqlite", "postgres", or "memory".
	Driver string `yaml:"driver"`

	// DSN is the SQLite file path or Postgres connection string.
	// Overridden by EVENTMERGE_STORE_DSN when set.
	DSN string `yaml:"dsn"`
}

// BusConfig configures the in-process message bus.
type BusConfig struct {
	// Partitions is the number of ordered processing lanes.
	Partitions int `yaml:"partitions"`

	// BufferSize is the per-partition channel buffer.
	BufferSize int `yaml:"buffer_size"`
}

// SummaryConfig configures the summarization service.
type SummaryConfig struct {
	// ClaudePath is the claude binary used for model summaries. Empty means
	// no external calls; every summary uses the deterministic fallback.
	// Overridden by EVENTMERGE_CLAUDE_PATH when set.
	ClaudePath string `yaml:"claude_path"`

	// Model is the model name passed to the binary.
	Model string `yaml:"model"`

	// CacheTTL is how long computed summaries stay cached.
	CacheTTL Duration `yaml:"cache_ttl"`

	// Timeout bounds each external call.
	Timeout Duration `yaml:"timeout"`
}

// SchedulerConfig configures the periodic merge sweep.
type SchedulerConfig struct {
	// MergeCron is a cron expression (e.g. "*/15 * * * *"). Empty disables
	// the sweep.
	MergeCron string `yaml:"merge_cron"`
}

// Config is the top-level service configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Bus       BusConfig       `yaml:"bus"`
	Summary   SummaryConfig   `yaml:"summary"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`

	// Metrics enables the OpenTelemetry recorder.
	Metrics bool `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP:  HTTPConfig{Listen: ":8080"},
		Store: StoreConfig{Driver: "sqlite", DSN: "./eventmerge.db"},
		Bus:   BusConfig{Partitions: 3, BufferSize: 256},
		Summary: SummaryConfig{
			CacheTTL: Duration(time.Hour),
			Timeout:  Duration(30 * time.Second),
		},
		LogLevel: "info",
	}
}

// Load reads the config file at path, merged over defaults. An empty path
// returns defaults. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if dsn := os.Getenv("EVENTMERGE_STORE_DSN"); dsn != "" {
		cfg.Store.DSN = dsn
	}
	if claude := os.Getenv("EVENTMERGE_CLAUDE_PATH"); claude != "" {
		cfg.Summary.ClaudePath = claude
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Bus.Partitions <= 0 {
		return fmt.Errorf("bus partitions must be positive, got %d", c.Bus.Partitions)
	}
	return nil
}
