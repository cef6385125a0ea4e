// Package config loads the server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ShardSearch/internal/coordinator"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Environment variables that override file settings.
const (
	EnvPort     = "SHARDSEARCH_PORT"
	EnvLogLevel = "SHARDSEARCH_LOG_LEVEL"
	EnvWorkers  = "SHARDSEARCH_WORKERS"
)

// Config is the full server configuration.
type Config struct {
	Server      ServerConfig       `yaml:"server"`
	Log         LogConfig          `yaml:"log"`
	Coordinator coordinator.Config `yaml:"coordinator"`
	Shard       ShardConfig        `yaml:"shard"`
	Collections []CollectionConfig `yaml:"collections"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ShardConfig configures every local shard replica.
type ShardConfig struct {
	SegmentsPerTask int `yaml:"segments_per_task"`
	CheckInterval   int `yaml:"check_interval"`

	// Workers and QueueSize size the process-wide worker pool used by
	// multi-threaded requests. Zero means GOMAXPROCS.
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// CPUClock selects the thread CPU clock: "system" or "stepped". The
	// stepped clock charges CPUStep per checkpoint regardless of real
	// cost, which makes cpuAllowed behaviour reproducible.
	CPUClock string        `yaml:"cpu_clock"`
	CPUStep  time.Duration `yaml:"cpu_step"`
}

// CollectionConfig declares a collection served by this process.
type CollectionConfig struct {
	Name     string `yaml:"name"`
	Shards   int    `yaml:"shards"`
	Replicas int    `yaml:"replicas"`

	// Remote lists shards served by other processes. A collection with
	// remote shards is query-only here.
	Remote []RemoteShard `yaml:"remote,omitempty"`
}

// RemoteShard is a shard reached over HTTP.
type RemoteShard struct {
	ID       string          `yaml:"id"`
	Replicas []RemoteReplica `yaml:"replicas"`
}

// RemoteReplica is one replica of a remote shard.
type RemoteReplica struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Log:         LogConfig{Level: "info", Format: "json"},
		Coordinator: coordinator.DefaultConfig(),
		Shard: ShardConfig{
			SegmentsPerTask: 5,
			CheckInterval:   128,
			CPUClock:        "system",
		},
		Collections: []CollectionConfig{
			{Name: "collection1", Shards: 3, Replicas: 2},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvWorkers, v)
		}
		cfg.Shard.Workers = n
	}
	return nil
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Log.Format)
	}
	switch c.Shard.CPUClock {
	case "system":
	case "stepped":
		if c.Shard.CPUStep <= 0 {
			return fmt.Errorf("%w: stepped cpu clock needs a positive cpu_step", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cpu clock %q", ErrInvalidConfig, c.Shard.CPUClock)
	}
	if c.Shard.Workers < 0 || c.Shard.QueueSize < 0 {
		return fmt.Errorf("%w: negative worker pool size", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Collections))
	for _, col := range c.Collections {
		if col.Name == "" {
			return fmt.Errorf("%w: collection without a name", ErrInvalidConfig)
		}
		if seen[col.Name] {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalidConfig, col.Name)
		}
		seen[col.Name] = true

		if len(col.Remote) > 0 {
			for _, rs := range col.Remote {
				if rs.ID == "" || len(rs.Replicas) == 0 {
					return fmt.Errorf("%w: collection %q: remote shard needs an id and replicas", ErrInvalidConfig, col.Name)
				}
			}
			continue
		}
		if col.Shards <= 0 || col.Replicas <= 0 {
			return fmt.Errorf("%w: collection %q needs at least one shard and replica", ErrInvalidConfig, col.Name)
		}
	}
	return nil
}
