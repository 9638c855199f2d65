// Package config loads the orchestrator configuration from YAML with
// environment variable expansion, fills defaults, and validates the
// result before anything starts.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/covey-team/covey/pkg/bus"
	"github.com/covey-team/covey/pkg/engine"
	"github.com/covey-team/covey/pkg/models"
)

// Config is the complete process configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Bus     bus.Config    `yaml:"bus"`
	Engine  engine.Config `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds the state store backend settings.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	Prefix      string        `yaml:"prefix"`
	TTL         time.Duration `yaml:"ttl"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LockRetries int           `yaml:"lock_retries"`
	LockBackoff time.Duration `yaml:"lock_backoff"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// NewLogger builds the process logger from the logging settings.
func (c LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			Prefix:      "covey",
			TTL:         time.Hour,
			LockTTL:     10 * time.Second,
			LockRetries: 5,
			LockBackoff: 50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, merges it over the defaults, and validates. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		var user Config
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &user); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants not covered by defaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return models.NewValidationError("server.port", "port must be in [1, 65535]")
	}
	if c.Redis.Addr == "" {
		return models.NewValidationError("redis.addr", "redis address is required")
	}
	if c.Redis.TTL < 0 {
		return models.NewValidationError("redis.ttl", "ttl must be >= 0")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return models.NewValidationError("logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return models.NewValidationError("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}
	return nil
}
