package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Bus.Partitions)
	assert.Equal(t, 256, cfg.Bus.BufferSize)
	assert.Equal(t, time.Hour, cfg.Summary.CacheTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Summary.Timeout.Std())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Scheduler.MergeCron)
	assert.False(t, cfg.Metrics)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  listen: ":9090"
store:
  driver: postgres
  dsn: postgres://localhost/eventmerge
bus:
  partitions: 5
summary:
  cache_ttl: 10m
  timeout: 5s
scheduler:
  merge_cron: "*/15 * * * *"
log_level: debug
metrics: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/eventmerge", cfg.Store.DSN)
	assert.Equal(t, 5, cfg.Bus.Partitions)
	// Unset fields keep their defaults.
	assert.Equal(t, 256, cfg.Bus.BufferSize)
	assert.Equal(t, 10*time.Minute, cfg.Summary.CacheTTL.Std())
	assert.Equal(t, 5*time.Second, cfg.Summary.Timeout.Std())
	assert.Equal(t, "*/15 * * * *", cfg.Scheduler.MergeCron)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Metrics)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EVENTMERGE_STORE_DSN", "/tmp/override.db")
	t.Setenv("EVENTMERGE_CLAUDE_PATH", "/usr/local/bin/claude")

	path := writeConfig(t, `
store:
  dsn: ./from-file.db
summary:
  claude_path: /from/file
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Store.DSN)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Summary.ClaudePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "store: [not a map"))
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
summary:
  timeout: soon
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, `
store:
  driver: mongodb
`))
	assert.ErrorContains(t, err, "unknown store driver")

	_, err = Load(writeConfig(t, `
bus:
  partitions: -1
`))
	assert.ErrorContains(t, err, "partitions must be positive")
}
