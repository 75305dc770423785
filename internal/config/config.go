// Package config loads process configuration from environment variables,
// reading a local .env file first when present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration.
type Config struct {
	Port         string        // HTTP listen port
	DatabaseURL  string        // PostgreSQL DSN; empty → in-memory store
	RedisURL     string        // Redis URL; empty → no cache layer
	JWTSecret    string        // HMAC secret for bearer tokens
	TokenTTL     time.Duration // bearer token lifetime
	TickInterval time.Duration // price tick + broadcast cadence
}

// Load reads configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvDefault("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   getEnvDefault("JWT_SECRET", "dev_secret"),
	}

	var err error
	if cfg.TokenTTL, err = parseDurationDefault("TOKEN_TTL", 8*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = parseDurationDefault("TICK_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("TICK_INTERVAL must be positive, got %s", cfg.TickInterval)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
