// Package config holds the runtime settings of the service and the fixed
// limits of the messaging core.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// Messages
	MaxContentLength = 2000

	// Restricted tier
	RestrictedDailyCap = 5
	RateLimitWindow    = 24 * time.Hour

	// WebSocket
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxFrameSize   = 8192
	ReadBufferSize = 1024
	WriteBuffer    = 1024
)

// Config is populated from the environment (optionally seeded from a .env file).
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"host=localhost user=user password=password dbname=nearmedb port=5432 sslmode=disable"`

	// RedisAddr is optional. When empty presence events stay in-process.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string        `env:"JWT_SECRET,required,notEmpty"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"nearme-service"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"72h"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	InboundQueueSize  int `env:"INBOUND_QUEUE_SIZE" envDefault:"32"`
	OutboundQueueSize int `env:"OUTBOUND_QUEUE_SIZE" envDefault:"256"`

	DevTokens      bool     `env:"DEV_TOKENS" envDefault:"false"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return sanitize(cfg), nil
}

func sanitize(cfg Config) Config {
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = 32
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 256
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 72 * time.Hour
	}
	return cfg
}
