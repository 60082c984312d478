// Package main provides the poll driver entry point for the manga sync service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manga-tracker/internal/bootstrap"
	"github.com/manga-tracker/internal/config"
	"github.com/manga-tracker/internal/logging"
	"github.com/manga-tracker/internal/storage"
	"github.com/manga-tracker/internal/types"
	"github.com/manga-tracker/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Run a single poll cycle and exit")
	flag.Parse()

	fmt.Println("Manga Sync Worker")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := bootstrap.InitLogging(cfg)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Connecting to databases...")
	res, err := bootstrap.Connect(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer res.Close()

	var trigger worker.Trigger
	switch cfg.Sync.Mode {
	case types.SyncModeHTTP:
		httpTrigger, err := worker.NewHTTPTrigger(cfg.Sync.APIBaseURL, cfg.Sync.Secret, cfg.Sync.TriggerTimeout)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create HTTP trigger")
		}
		trigger = httpTrigger
		logger.WithField("baseUrl", cfg.Sync.APIBaseURL).Info("Triggering syncs over HTTP")
	default:
		engine, err := bootstrap.NewEngine(cfg, res, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create sync engine")
		}
		defer engine.Close()
		trigger = worker.NewEngineTrigger(engine)
		logger.Info("Running syncs in-process")
	}

	driverCfg := &worker.PollDriverConfig{
		Sources:  res.Store,
		Trigger:  trigger,
		Interval: cfg.Sync.PollInterval,
		Logger:   logger,
	}
	if res.Redis != nil {
		driverCfg.Lock = res.Redis.NewLock(storage.KeyPollLock, cfg.Sync.PollInterval)
	}

	driver, err := worker.NewPollDriver(driverCfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create poll driver")
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	if *once {
		summary, err := driver.RunCycle(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Poll cycle failed")
		}
		logger.WithFields(map[string]interface{}{
			"successful": summary.Successful,
			"failed":     summary.Failed,
			"skipped":    summary.Skipped,
		}).Info("Single cycle finished")
		return
	}

	// Run returns once the signal context is cancelled; in-flight syncs are not awaited
	if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Poll driver stopped unexpectedly")
	}
	logger.Info("Shutdown signal received. Goodbye!")
}

func serveMetrics(addr string) {
	logging.WithField("addr", addr).Info("Serving metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.WithError(err).Error("Metrics listener stopped")
	}
}
