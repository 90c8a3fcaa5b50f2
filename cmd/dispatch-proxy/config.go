package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/redis/go-redis/v9"
)

// Config holds the proxy configuration, read from the environment.
type Config struct {
	UpstreamBaseURL string        `env:"UPSTREAM_BASE_URL,required"`
	Port            string        `env:"PORT" envDefault:"8080"`
	RedisURL        string        `env:"REDIS_URL"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool          `env:"LOG_PRETTY" envDefault:"false"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxConcurrency  int           `env:"MAX_CONCURRENCY" envDefault:"0"`
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"0"`
	InitialBackoff  time.Duration `env:"INITIAL_BACKOFF" envDefault:"2s"`
	MaxBackoff      time.Duration `env:"MAX_BACKOFF" envDefault:"0s"`
}

// loadConfig parses the environment into a Config.
func loadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	return cfg, nil
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(redisURL string) (*redis.Options, error) {
	if strings.Contains(redisURL, "://") {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: redisURL}, nil
}
