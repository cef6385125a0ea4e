package coordinator

import "time"

// Config configures the Coordinator.
type Config struct {
	// QueryTimeout is a hard ceiling on a whole query. Hitting it fails the
	// query; it never produces partial results. Zero disables it, leaving
	// budgets as the only limit.
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`

	// HealthCheckInterval is how often to poll shard health.
	HealthCheckInterval time.Duration `json:"health_check_interval" yaml:"health_check_interval"`

	// DefaultRows is used when a request does not set rows.
	DefaultRows int `json:"default_rows" yaml:"default_rows"`

	// MaxRows caps start+rows.
	MaxRows int `json:"max_rows" yaml:"max_rows"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 10 * time.Second,
		DefaultRows:         10,
		MaxRows:             10_000,
	}
}
