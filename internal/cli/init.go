// Package cli wires configuration, storage, messaging and the projector into
// the recurring-worker commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"caixa/internal/amqp"
	"caixa/internal/config"
	"caixa/internal/log"
	"caixa/internal/services"
	"caixa/internal/storage"
	"caixa/internal/storage/memory"

	"github.com/joho/godotenv"
)

// Store is what the commands need from a backend.
type Store interface {
	services.ProjectionStore
	Ping(ctx context.Context) error
	Close() error
}

// SetupLogger initializes structured logging and sets it as the default logger.
func SetupLogger(w io.Writer, cfg *config.Config) *log.Logger {
	logger := log.New(log.Config{
		Level:     cfg.Level(),
		Component: log.ComponentApp,
		Output:    w,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads a .env file for local development.
// A missing file is not an error; production sets the environment directly.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the configured backend, running migrations for SQL stores.
func OpenStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (Store, error) {
	logger = logger.WithComponent(log.ComponentStorage)

	switch cfg.DataBackend {
	case "postgres":
		repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres repository: %w", err)
		}
		logger.InfoContext(ctx, "Postgres repository initialized")
		return repo, nil
	case "memory":
		store, err := memory.NewFromFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("initialize memory store: %w", err)
		}
		logger.WarnContext(ctx, "Using in-memory store, instances are lost on exit", "seed_file", cfg.SeedFile)
		return store, nil
	default:
		repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite repository at %s: %w", cfg.SQLiteDBPath, err)
		}
		logger.InfoContext(ctx, "SQLite repository initialized", "path", cfg.SQLiteDBPath)
		return repo, nil
	}
}

// ConnectAMQP returns a client, or nil when AMQP is disabled or unreachable.
func ConnectAMQP(ctx context.Context, cfg *config.Config, logger *log.Logger) *amqp.Client {
	logger = logger.WithComponent(log.ComponentAMQP)

	if cfg.AMQPURL == "" {
		logger.InfoContext(ctx, "AMQP disabled - instance events will not be published")
		return nil
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPEventsQueue, cfg.AMQPTriggerQueue)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	logger.InfoContext(ctx, "AMQP client initialized", "exchange", cfg.AMQPExchange)
	return client
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
