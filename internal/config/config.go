package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process settings read from POPGOAT_* environment variables.
// Command-line flags override them.
type Config struct {
	DBPath    string `env:"POPGOAT_DB_PATH" envDefault:"./popgoat.db"`
	Port      int    `env:"POPGOAT_PORT" envDefault:"8080"`
	RedisAddr string `env:"POPGOAT_REDIS_ADDR"`
	LogMode   string `env:"POPGOAT_LOG_MODE" envDefault:"dev"`
	Token     string `env:"POPGOAT_TOKEN"`

	// Lookback bounds the event window used for experiment counters.
	Lookback time.Duration `env:"POPGOAT_LOOKBACK" envDefault:"720h"`
	// TickInterval runs the lifecycle controller inside serve; zero disables it.
	TickInterval         time.Duration `env:"POPGOAT_TICK_INTERVAL" envDefault:"0s"`
	LifecycleConcurrency int           `env:"POPGOAT_LIFECYCLE_CONCURRENCY" envDefault:"4"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.LifecycleConcurrency < 1 {
		cfg.LifecycleConcurrency = 1
	}
	return cfg, nil
}
