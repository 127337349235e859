package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port string `env:"PORT" envDefault:"8081"`

	// Backend selection
	DataBackend string `env:"DATA_BACKEND" envDefault:"sqlite"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/caixa.db"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SeedFile     string `env:"SEED_FILE" envDefault:"./data/seed.json"`

	// AMQP
	AMQPURL          string `env:"AMQP_URL"`
	AMQPExchange     string `env:"AMQP_EXCHANGE" envDefault:"caixa"`
	AMQPEventsQueue  string `env:"AMQP_EVENTS_QUEUE" envDefault:"expense_instances"`
	AMQPTriggerQueue string `env:"AMQP_TRIGGER_QUEUE" envDefault:"recurring_run_requests"`

	// Recurring projector
	RecurringSchedule    string        `env:"RECURRING_SCHEDULE" envDefault:"0 6 * * *"`
	RecurringRunOnStart  bool          `env:"RECURRING_RUN_ON_START" envDefault:"true"`
	RecurringWorkers     int           `env:"RECURRING_WORKERS" envDefault:"1"`
	RecurringMaxAttempts int           `env:"RECURRING_MAX_ATTEMPTS" envDefault:"2"`
	RecurringTimeout     time.Duration `env:"RECURRING_TIMEOUT" envDefault:"5m"`

	// Timezone decides which calendar day a run falls on
	Timezone string `env:"TIMEZONE" envDefault:"UTC"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// load parses with explicit options; a nil Environment means the process env.
func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	validBackends := []string{"sqlite", "postgres", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.DataBackend == "postgres" {
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, "invalid DATABASE_URL: must be a postgres:// or postgresql:// URL")
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventsQueue == "" {
			errors = append(errors, "AMQP events queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate projector configuration
	if _, err := cron.ParseStandard(c.RecurringSchedule); err != nil {
		errors = append(errors, fmt.Sprintf("invalid recurring schedule '%s': %v", c.RecurringSchedule, err))
	}

	if c.RecurringWorkers < 1 || c.RecurringWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid recurring workers %d: must be between 1 and 64", c.RecurringWorkers))
	}

	if c.RecurringMaxAttempts < 1 || c.RecurringMaxAttempts > 5 {
		errors = append(errors, fmt.Sprintf("invalid recurring max attempts %d: must be between 1 and 5", c.RecurringMaxAttempts))
	}

	if c.RecurringTimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid recurring timeout %v: must not be negative", c.RecurringTimeout))
	} else if c.RecurringTimeout > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid recurring timeout %v: must be at most 24 hours", c.RecurringTimeout))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", s)
	}
	return level, nil
}
