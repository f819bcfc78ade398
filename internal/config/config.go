// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all fabric configuration, loaded from environment variables.
// Field names and defaults mirror spec §6's "Environment variables" table,
// plus the operational knobs the ambient stack needs that the spec leaves
// to the implementation.
type Config struct {
	// Mode selects the runtime mode: "api" or "worker".
	Mode string `env:"FABRIC_MODE" envDefault:"api"`

	// Server
	Host string `env:"FABRIC_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"FABRIC_PORT" envDefault:"8080"`

	// DataRoot is the filesystem root under which every per-tenant tree is
	// rooted (spec §4.1, §6).
	DataRoot string `env:"DATA_ROOT" envDefault:"./data"`

	// SigningKey is the fallback master key HKDF-derives per-tenant
	// capability-token signing keys from (spec §4.2, §6).
	SigningKey string `env:"SIGNING_KEY" envDefault:""`

	// MaxBodyBytes caps request bodies on the two exposed HTTP endpoints.
	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// TokenDefaultTTL is the default capability token lifetime (spec §4.2).
	TokenDefaultTTL time.Duration `env:"FABRIC_TOKEN_TTL" envDefault:"1h"`

	// EventBusQueueSize is read from the environment but no component
	// consumes it: the bus dispatches each matching trigger on its own
	// goroutine, with no queue.
	EventBusQueueSize int `env:"FABRIC_EVENTBUS_QUEUE_SIZE" envDefault:"256"`

	// MCPHealthCheckInterval is how often the MCP health checker re-evaluates
	// server status (spec §4.10: "every 30s").
	MCPHealthCheckInterval time.Duration `env:"FABRIC_MCP_HEALTH_INTERVAL" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
