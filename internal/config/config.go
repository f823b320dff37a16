// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Production = "production"

type HTTPOptions struct {
	Addr         string        `env:"PTW_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr     string        `env:"PTW_GRPC_ADDR" envDefault:":9090"`
	ReadTimeout  time.Duration `env:"PTW_HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"PTW_HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"PTW_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// MaxBodyBytes bounds a whole request, multipart uploads included.
	MaxBodyBytes   int64    `env:"PTW_HTTP_MAX_BODY_BYTES" envDefault:"67108864"`
	AllowedOrigins []string `env:"PTW_HTTP_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type DatabaseOptions struct {
	DSN             string        `env:"PTW_PG_DSN"`
	MaxOpenConns    int           `env:"PTW_PG_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"PTW_PG_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"PTW_PG_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"PTW_PG_CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

type AuthOptions struct {
	Secret   string        `env:"PTW_AUTH_SECRET"`
	Issuer   string        `env:"PTW_AUTH_ISSUER" envDefault:"ptw"`
	TokenTTL time.Duration `env:"PTW_AUTH_TOKEN_TTL" envDefault:"12h"`
}

type StorageOptions struct {
	Backend  string `env:"PTW_STORAGE_BACKEND" envDefault:"fs"`
	Root     string `env:"PTW_STORAGE_ROOT" envDefault:"uploads"`
	Bucket   string `env:"PTW_STORAGE_BUCKET"`
	Region   string `env:"PTW_STORAGE_REGION" envDefault:"us-east-1"`
	Endpoint string `env:"PTW_STORAGE_ENDPOINT"`
	Prefix   string `env:"PTW_STORAGE_PREFIX"`
}

type NotifyOptions struct {
	Backend   string `env:"PTW_NOTIFY_BACKEND" envDefault:"log"`
	URL       string `env:"PTW_NOTIFY_URL"`
	Subject   string `env:"PTW_NOTIFY_SUBJECT" envDefault:"ptw.events"`
	Stream    string `env:"PTW_NOTIFY_STREAM" envDefault:"ptw:events"`
	QueueSize int    `env:"PTW_NOTIFY_QUEUE_SIZE" envDefault:"256"`
}

type RateLimitOptions struct {
	Burst     int `env:"PTW_RATE_BURST" envDefault:"40"`
	PerSecond int `env:"PTW_RATE_PER_SECOND" envDefault:"20"`
}

type TelemetryOptions struct {
	Enabled     bool   `env:"PTW_OTEL_ENABLED" envDefault:"false"`
	Endpoint    string `env:"PTW_OTEL_ENDPOINT" envDefault:"localhost:4318"`
	ServiceName string `env:"PTW_OTEL_SERVICE_NAME" envDefault:"ptw-api"`
}

type Config struct {
	HTTP      HTTPOptions
	Database  DatabaseOptions
	Auth      AuthOptions
	Storage   StorageOptions
	Notify    NotifyOptions
	RateLimit RateLimitOptions
	Telemetry TelemetryOptions

	ApprovalPolicyPath string `env:"PTW_APPROVAL_POLICY"`
	Environment        string `env:"PTW_ENV" envDefault:"development"`
	LogLevel           string `env:"PTW_LOG_LEVEL" envDefault:"info"`
}

// Load applies optional env files and parses the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env", ".env.local"}
	}
	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, Production)
}

// Validate rejects inconsistent option combinations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "fs", "memory":
	case "s3", "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("PTW_STORAGE_BUCKET is required for %s storage", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage backend %q", c.Storage.Backend))
	}

	switch c.Notify.Backend {
	case "log", "none":
	case "nats", "redis":
		if c.Notify.URL == "" {
			errs = append(errs, fmt.Errorf("PTW_NOTIFY_URL is required for %s notifications", c.Notify.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notify backend %q", c.Notify.Backend))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("PTW_NOTIFY_QUEUE_SIZE must be positive"))
	}

	if c.Database.MaxOpenConns <= 0 {
		errs = append(errs, errors.New("PTW_PG_MAX_OPEN_CONNS must be positive"))
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, errors.New("PTW_PG_MAX_IDLE_CONNS must be between 0 and PTW_PG_MAX_OPEN_CONNS"))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("rate limit burst and per-second must be positive"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("PTW_AUTH_TOKEN_TTL must be positive"))
	}
	if c.IsProduction() && strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("PTW_AUTH_SECRET is required in production"))
	}
	return errors.Join(errs...)
}
