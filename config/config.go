package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the runtime configuration for the marketplace service. Values come
// from an optional TOML file with environment variable overrides on top.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Seed      SeedConfig      `toml:"seed"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen        string  `toml:"listen"`
	Environment   string  `toml:"environment"`
	RatePerSecond float64 `toml:"rate_per_second"`
	RateBurst     int     `toml:"rate_burst"`
}

// DatabaseConfig selects the backing store.
type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// AuthConfig controls token issuance and verification. The signing secret is
// only ever read from the environment variable named by SecretEnv.
type AuthConfig struct {
	Issuer        string `toml:"issuer"`
	Audience      string `toml:"audience"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
	SecretEnv     string `toml:"secret_env"`

	Secret []byte `toml:"-"`
}

// TokenTTL returns the configured token lifetime.
func (a AuthConfig) TokenTTL() time.Duration {
	hours := a.TokenTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// LogConfig controls structured log output and rotation.
type LogConfig struct {
	File        string `toml:"file"`
	MaxSizeMB   int    `toml:"max_size_mb"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAgeDays  int    `toml:"max_age_days"`
	LogRequests bool   `toml:"requests"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	Metrics  bool   `toml:"metrics"`
	Traces   bool   `toml:"traces"`
}

// SeedConfig points at an optional YAML fixture applied at startup.
type SeedConfig struct {
	File string `toml:"file"`
}

// Load reads the TOML file at path (skipped when empty), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if strings.TrimSpace(path) != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	secret := strings.TrimSpace(os.Getenv(cfg.Auth.SecretEnv))
	if secret == "" {
		return nil, fmt.Errorf("%s is required", cfg.Auth.SecretEnv)
	}
	cfg.Auth.Secret = []byte(secret)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        ":8080",
			Environment:   "dev",
			RatePerSecond: 20,
			RateBurst:     40,
		},
		Database: DatabaseConfig{Driver: "postgres"},
		Auth: AuthConfig{
			Issuer:        "itembay",
			Audience:      "itembay-api",
			TokenTTLHours: 24,
			SecretEnv:     "MARKETD_JWT_SECRET",
		},
		Log: LogConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14, LogRequests: true},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
			Insecure: true,
			Traces:   true,
		},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MARKETD_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("MARKETD_ENV"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("MARKETD_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MARKETD_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MARKETD_SEED_FILE"); v != "" {
		cfg.Seed.File = v
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database DSN is required")
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		return fmt.Errorf("auth issuer is required")
	}
	if strings.TrimSpace(c.Auth.Audience) == "" {
		return fmt.Errorf("auth audience is required")
	}
	return nil
}
