// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is shared by cmd/gateway and cmd/reconcile.
type Config struct {
	HTTPAddr    string `env:"TURNSTILE_HTTP_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"TURNSTILE_PG_DSN"`

	AuthSecret string `env:"TURNSTILE_AUTH_SECRET"`
	AuthIssuer string `env:"TURNSTILE_AUTH_ISSUER" envDefault:"turnstile-auth"`
	CronSecret string `env:"TURNSTILE_CRON_SECRET"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	RabbitURL     string `env:"RABBITMQ_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ProcessorTimeout time.Duration `env:"TURNSTILE_PROCESSOR_TIMEOUT" envDefault:"10s"`
	PushTimeout      time.Duration `env:"TURNSTILE_PUSH_TIMEOUT" envDefault:"5s"`
	RatePerSec       float64       `env:"TURNSTILE_RATE_PER_SEC" envDefault:"5"`
	RateBurst        int           `env:"TURNSTILE_RATE_BURST" envDefault:"20"`
	HoldTTL          time.Duration `env:"TURNSTILE_HOLD_TTL" envDefault:"10m"`

	ReconcileHoursBack float64 `env:"TURNSTILE_RECONCILE_HOURS_BACK" envDefault:"1"`
	ReconcileBatch     int     `env:"TURNSTILE_RECONCILE_BATCH" envDefault:"200"`
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Values already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ValidateServer checks what the gateway needs to start.
func (c Config) ValidateServer() error {
	var errs []error
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("TURNSTILE_PG_DSN is required"))
	}
	if c.AuthSecret == "" {
		errs = append(errs, errors.New("TURNSTILE_AUTH_SECRET is required"))
	}
	if c.CronSecret == "" {
		errs = append(errs, errors.New("TURNSTILE_CRON_SECRET is required"))
	}
	return errors.Join(append(errs, c.validateLimits())...)
}

// ValidateReconcile checks what a one-shot sweep needs.
func (c Config) ValidateReconcile() error {
	var errs []error
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("TURNSTILE_PG_DSN is required"))
	}
	if c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	return errors.Join(append(errs, c.validateLimits())...)
}

func (c Config) validateLimits() error {
	switch {
	case c.ProcessorTimeout <= 0:
		return errors.New("TURNSTILE_PROCESSOR_TIMEOUT must be positive")
	case c.PushTimeout <= 0:
		return errors.New("TURNSTILE_PUSH_TIMEOUT must be positive")
	case c.RatePerSec <= 0 || c.RateBurst <= 0:
		return errors.New("TURNSTILE_RATE_PER_SEC and TURNSTILE_RATE_BURST must be positive")
	case c.HoldTTL <= 0:
		return errors.New("TURNSTILE_HOLD_TTL must be positive")
	case c.ReconcileHoursBack < 0:
		return errors.New("TURNSTILE_RECONCILE_HOURS_BACK must not be negative")
	}
	return nil
}

// Door configures cmd/doorctl on a door device.
type Door struct {
	GatewayURL string `env:"DOORCTL_GATEWAY_URL"`
	Token      string `env:"DOORCTL_TOKEN"`
	DBPath     string `env:"DOORCTL_DB" envDefault:"doorctl.db"`
	EventID    string `env:"DOORCTL_EVENT"`
	ScannedBy  string `env:"DOORCTL_SCANNED_BY"`
}

// LoadDoor reads the device configuration the same way Load does.
func LoadDoor(files ...string) (Door, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Door{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var d Door
	if err := ParseEnv(&d); err != nil {
		return Door{}, err
	}
	return d, nil
}
