// Package bootstrap wires configuration into the storage, connector and engine
// components shared by the worker and server binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/manga-tracker/internal/config"
	"github.com/manga-tracker/internal/connector"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/retry"
	"github.com/manga-tracker/internal/storage"
	"github.com/manga-tracker/internal/worker"
)

// Resources holds the open connections of a process
type Resources struct {
	Postgres *storage.PostgresDB
	Redis    *storage.RedisCache // nil when Redis is disabled or unreachable
	Store    *storage.CatalogStore
}

// Close releases every open connection
func (r *Resources) Close() {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close Redis")
		}
	}
	if r.Postgres != nil {
		r.Postgres.Close()
	}
}

func connectRetryConfig() *retry.RetryConfig {
	return &retry.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
	}
}

// Connect opens Postgres, retrying while the database comes up, and Redis when
// enabled. A Redis failure is logged and the process continues without it.
func Connect(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Resources, error) {
	res := &Resources{}

	err := retry.Do(ctx, connectRetryConfig(), func(ctx context.Context, attempt int) error {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("Postgres not ready")
			return err
		}
		res.Postgres = db
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	res.Store = storage.NewCatalogStore(res.Postgres)
	logger.Info("Connected to Postgres")

	if !cfg.Database.Redis.Enabled {
		logger.Info("Redis disabled; result cache and poll lease are off")
		return res, nil
	}

	err = retry.Do(ctx, connectRetryConfig(), func(ctx context.Context, attempt int) error {
		cache, err := storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("Redis not ready")
			return err
		}
		res.Redis = cache
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("Continuing without Redis")
		return res, nil
	}
	logger.Info("Connected to Redis")

	return res, nil
}

// NewEngine builds the sync engine with the configured connectors
func NewEngine(cfg *config.Config, res *Resources, logger *logging.Logger) (*worker.Engine, error) {
	registry, err := connector.NewDefaultRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build connector registry: %w", err)
	}
	logger.WithField("domains", registry.Domains()).Info("Connectors registered")

	engineCfg := &worker.EngineConfig{
		Store:               res.Store,
		Connectors:          registry,
		Backoff:             retry.NewBackoffTracker(cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax),
		Logger:              logger,
		IncrementalPageSize: cfg.Sync.IncrementalPageSize,
		FullPageSize:        cfg.Sync.FullPageSize,
		ChapterPageSize:     cfg.Sync.ChapterPageSize,
	}
	if res.Redis != nil {
		engineCfg.Recorder = res.Redis
	}

	return worker.NewEngine(engineCfg)
}

// InitLogging configures the global logger from cfg and returns it
func InitLogging(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")
	return logger
}
