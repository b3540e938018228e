// Package config binds the process environment into the deployment knobs
// this module needs. Everything that belongs to the host application
// instead (priority list, exclusion set, proxy per account, etc.) is the
// Settings interface in internal/host, not this package — this is only the
// process-level config a single running instance reads once at startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process-level configuration for a single mining instance.
type Config struct {
	ProxyURL          string        `env:"DROPS_PROXY_URL" envDefault:""`
	CookieJarPath     string        `env:"DROPS_COOKIE_JAR_PATH" envDefault:"cookies.json"`
	WebsocketPoolCap  int           `env:"DROPS_WS_POOL_CAP" envDefault:"8"`
	WSTopicsPerConn   int           `env:"DROPS_WS_TOPICS_PER_CONN" envDefault:"50"`
	GQLRatePerSecond  float64       `env:"DROPS_GQL_RATE_PER_SECOND" envDefault:"5"`
	GQLBurst          int           `env:"DROPS_GQL_BURST" envDefault:"10"`
	LogLevel          string        `env:"DROPS_LOG_LEVEL" envDefault:"info"`
	LogEmoji          bool          `env:"DROPS_LOG_EMOJI" envDefault:"true"`
	RequestTimeout    time.Duration `env:"DROPS_REQUEST_TIMEOUT" envDefault:"10s"`
	DisableTLSVerify  bool          `env:"DROPS_DISABLE_TLS_VERIFY" envDefault:"false"`
}

// Load reads .env (if present) then the process environment, applying
// defaults for anything unset. A missing .env file is not an error — it's
// the expected shape in a container deployment that sets real env vars.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// no .env file; environment variables alone are fine
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configuration that would make the websocket pool or gql
// client misbehave instead of failing at call time.
func (c *Config) Validate() error {
	if c.WebsocketPoolCap < 1 {
		return fmt.Errorf("DROPS_WS_POOL_CAP must be > 0, got %d", c.WebsocketPoolCap)
	}
	if c.WSTopicsPerConn < 1 {
		return fmt.Errorf("DROPS_WS_TOPICS_PER_CONN must be > 0, got %d", c.WSTopicsPerConn)
	}
	if c.GQLRatePerSecond <= 0 {
		return fmt.Errorf("DROPS_GQL_RATE_PER_SECOND must be > 0, got %.2f", c.GQLRatePerSecond)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("DROPS_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}
