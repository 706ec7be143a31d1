// Package config loads service configuration from an optional YAML file with
// DRAINFLOW_ environment variable overrides. Nested keys map to env vars by
// replacing dots with underscores: server.http_port -> DRAINFLOW_SERVER_HTTP_PORT.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DRAINFLOW_"

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	Database      DatabaseConfig      `koanf:"database"`
	Auth          AuthConfig          `koanf:"auth"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
	SLAWatch      SLAWatchConfig      `koanf:"sla_watch"`
	Teams         TeamsConfig         `koanf:"teams"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"`
	MetricsPort     int           `koanf:"metrics_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// DatabaseConfig configures the postgres pool.
type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"ssl_mode"`
	MaxConns int32  `koanf:"max_conns"`
}

// AuthConfig configures token validation.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// SchedulerConfig configures the background assignment scheduler.
type SchedulerConfig struct {
	Enabled                   bool          `koanf:"enabled"`
	Interval                  time.Duration `koanf:"interval"`
	CronExpr                  string        `koanf:"cron_expr"`
	Cooldown                  time.Duration `koanf:"cooldown"`
	MaxAssignmentsPerPriority int           `koanf:"max_assignments_per_priority"`
	RatePerSecond             float64       `koanf:"rate_per_second"`
}

// SLAWatchConfig configures the SLA breach sweep.
type SLAWatchConfig struct {
	Enabled       bool          `koanf:"enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// TeamsConfig configures the availability sweeper.
type TeamsConfig struct {
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
}

// NotificationsConfig configures the delivery pipeline.
type NotificationsConfig struct {
	Enabled           bool          `koanf:"enabled"`
	WebhookEndpoint   string        `koanf:"webhook_endpoint"`
	WebhookAuthToken  string        `koanf:"webhook_auth_token"`
	WebhookTimeout    time.Duration `koanf:"webhook_timeout"`
	Workers           int           `koanf:"workers"`
	BatchSize         int           `koanf:"batch_size"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "drainflow",
			Database: "drainflow",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Scheduler: SchedulerConfig{
			Enabled:                   true,
			Interval:                  5 * time.Minute,
			Cooldown:                  5 * time.Minute,
			MaxAssignmentsPerPriority: 5,
			RatePerSecond:             2,
		},
		SLAWatch: SLAWatchConfig{
			Enabled:       true,
			SweepInterval: time.Minute,
		},
		Teams: TeamsConfig{
			ReconcileInterval: time.Minute,
		},
		Notifications: NotificationsConfig{
			Enabled:           true,
			WebhookTimeout:    10 * time.Second,
			Workers:           3,
			BatchSize:         100,
			PollInterval:      5 * time.Second,
			InitialBackoff:    time.Second,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2.0,
		},
	}
}

// Load reads configuration from the given YAML file (optional, may be empty)
// and applies DRAINFLOW_ environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("server.metrics_port must differ from http_port")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if c.Database.Host == "" || c.Database.Database == "" {
		return fmt.Errorf("database.host and database.database are required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.Interval <= 0 && c.Scheduler.CronExpr == "" {
			return fmt.Errorf("scheduler requires an interval or a cron expression")
		}
		if c.Scheduler.RatePerSecond <= 0 {
			return fmt.Errorf("scheduler.rate_per_second must be positive")
		}
	}

	if c.Notifications.Enabled && c.Notifications.WebhookEndpoint == "" {
		return fmt.Errorf("notifications.webhook_endpoint is required when notifications are enabled")
	}

	return nil
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
