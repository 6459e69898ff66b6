package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// minBaseDelayMs is the floor for the reconnect base delay. Anything
	// lower hammers the server during outages.
	minBaseDelayMs = 200

	// defaultPollIntervalMs is the polling catch-up cadence.
	defaultPollIntervalMs = 5000

	// defaultTokenRefreshMin is the token auto-refresh interval in minutes.
	defaultTokenRefreshMin = 30
)

// Config holds all environment-based configuration for the desktop client.
type Config struct {
	// Server socket to connect to on startup, "host:port".
	ServerSocket string `env:"CP_SERVER_SOCKET"`

	// Origin scheme the client page was served from. Gates transport
	// selection: a secure origin with a non-strict trust policy cannot
	// use the push transport.
	OriginScheme string `env:"CP_ORIGIN_SCHEME" envDefault:"https"`

	// Path to the YAML trust store describing per-server TLS policy.
	// Defaults to ~/.carrypigeon/servers.yaml.
	TrustStorePath string `env:"CP_TRUST_STORE"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"CP_DEVICE_NAME"`

	// Bootstrap session token. When empty the token cached from a
	// previous login is used.
	SessionToken string `env:"CP_SESSION_TOKEN"`

	// Polling catch-up cadence in milliseconds.
	PollIntervalMs int `env:"CP_POLL_INTERVAL_MS" envDefault:"5000"`

	// Reconnect tuning. Floors are enforced in Load.
	RetryMaxAttempts int `env:"CP_RETRY_MAX_ATTEMPTS" envDefault:"20"`
	RetryBaseDelayMs int `env:"CP_RETRY_BASE_DELAY_MS" envDefault:"900"`
	RetryMaxDelayMs  int `env:"CP_RETRY_MAX_DELAY_MS" envDefault:"30000"`

	// Token auto-refresh interval in minutes.
	TokenRefreshMin int `env:"CP_TOKEN_REFRESH_MIN" envDefault:"30"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "carrypigeon"
		}

		cfg.DeviceName = hostname
	}

	if cfg.TrustStorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.TrustStorePath = filepath.Join(home, ".carrypigeon", "servers.yaml")
	}

	cfg.applyFloors()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyFloors clamps retry tuning to sane minimums so a misconfigured
// environment cannot produce a zero-attempt or busy-loop reconnect.
func (c *Config) applyFloors() {
	if c.RetryMaxAttempts < 1 {
		c.RetryMaxAttempts = 1
	}

	if c.RetryBaseDelayMs < minBaseDelayMs {
		c.RetryBaseDelayMs = minBaseDelayMs
	}

	if c.RetryMaxDelayMs < c.RetryBaseDelayMs {
		c.RetryMaxDelayMs = c.RetryBaseDelayMs
	}

	if c.PollIntervalMs < 0 {
		c.PollIntervalMs = defaultPollIntervalMs
	}

	if c.TokenRefreshMin < 1 {
		c.TokenRefreshMin = defaultTokenRefreshMin
	}
}

func (c *Config) validate() error {
	switch c.OriginScheme {
	case "http", "https":
	default:
		return fmt.Errorf("CP_ORIGIN_SCHEME must be http or https, got %q", c.OriginScheme)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
