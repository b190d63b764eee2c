// Package config provides environment-driven configuration for the
// ContractDesk realtime simulator daemon.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds all simulator configuration values.
type Config struct {
	Port         string
	ListenHost   string
	CORSOrigins  []string
	LogLevel     string
	TickInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:       envOrDefault("PORT", "4000"),
		ListenHost: envOrDefault("LISTEN_HOST", "127.0.0.1"),
		LogLevel:   envOrDefault("LOG_LEVEL", "info"),
	}

	tick, err := time.ParseDuration(envOrDefault("SIM_TICK_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("SIM_TICK_INTERVAL is not a valid duration: %w", err)
	}
	cfg.TickInterval = tick

	origins := envOrDefault("CORS_ORIGINS", "http://localhost:3000")
	cfg.CORSOrigins = strings.Split(origins, ",")

	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port format.
func (c *Config) Addr() string {
	return c.ListenHost + ":" + c.Port
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
