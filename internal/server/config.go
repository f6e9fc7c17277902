package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimitConfig defines the parameters for per-connection inbound frame
// rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the relay configuration, including the liveness and
// security controls applied to every session.
type Config struct {
	Port              string        `env:"SERVER_PORT" envDefault:":8080"`
	RedisURL          string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-me"`
	JWTAlg            string        `env:"JWT_ALG" envDefault:"HS256"`
	PresenceTTL       time.Duration `env:"PRESENCE_TTL" envDefault:"60s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"70s"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit         RateLimitConfig

	origins originPolicy
}

// NewConfigFromEnv loads configuration from environment variables, falling
// back to defaults for anything unset.
func NewConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.sanitize(), nil
}

// sanitize replaces zero values with defaults and pre-normalizes the
// origin allow-list.
func (c Config) sanitize() Config {
	if c.Port == "" {
		c.Port = ":8080"
	}
	if c.JWTAlg == "" {
		c.JWTAlg = "HS256"
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 60 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 70 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}
	c.origins = newOriginPolicy(c.AllowedOrigins)
	return c
}
