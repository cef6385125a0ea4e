package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Coordinator.DefaultRows)
	assert.Equal(t, 5, cfg.Shard.SegmentsPerTask)
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, 3, cfg.Collections[0].Shards)
	assert.Equal(t, 2, cfg.Collections[0].Replicas)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
log:
  level: debug
  format: text
coordinator:
  query_timeout: 30s
  default_rows: 20
shard:
  workers: 8
  cpu_clock: stepped
  cpu_step: 25ms
collections:
  - name: books
    shards: 2
    replicas: 1
  - name: remote_books
    remote:
      - id: shard1
        replicas:
          - name: replica_n1
            address: http://10.0.0.5:8080
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.QueryTimeout)
	assert.Equal(t, 20, cfg.Coordinator.DefaultRows)
	assert.Equal(t, 8, cfg.Shard.Workers)
	assert.Equal(t, 25*time.Millisecond, cfg.Shard.CPUStep)
	require.Len(t, cfg.Collections, 2)
	assert.Equal(t, "http://10.0.0.5:8080", cfg.Collections[1].Remote[0].Replicas[0].Address)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPort, "7070")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvWorkers, "3")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Shard.Workers)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv(EnvPort, "eighty")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"cpu clock", func(c *Config) { c.Shard.CPUClock = "sundial" }},
		{"stepped without step", func(c *Config) { c.Shard.CPUClock = "stepped" }},
		{"negative workers", func(c *Config) { c.Shard.Workers = -1 }},
		{"unnamed collection", func(c *Config) { c.Collections[0].Name = "" }},
		{"duplicate collection", func(c *Config) { c.Collections = append(c.Collections, c.Collections[0]) }},
		{"zero shards", func(c *Config) { c.Collections[0].Shards = 0 }},
		{"remote without replicas", func(c *Config) {
			c.Collections[0].Remote = []RemoteShard{{ID: "shard1"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}
