// Package main provides the trigger server entry point for the manga sync service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manga-tracker/internal/api"
	"github.com/manga-tracker/internal/bootstrap"
	"github.com/manga-tracker/internal/config"
)

func main() {
	fmt.Println("Manga Sync Trigger Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := bootstrap.InitLogging(cfg)
	if err := cfg.ValidateServer(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	logger.Info("Connecting to databases...")
	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 2*time.Minute)
	res, err := bootstrap.Connect(connectCtx, cfg, logger)
	cancelConnect()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to databases")
	}
	defer res.Close()

	engine, err := bootstrap.NewEngine(cfg, res, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync engine")
	}
	defer engine.Close()

	deps := &api.ServerDeps{
		Engine: engine,
		Logs:   res.Store,
		Checks: map[string]api.HealthChecker{"postgres": res.Postgres},
		Logger: logger,
	}
	if res.Redis != nil {
		deps.Last = res.Redis
		deps.Checks["redis"] = res.Redis
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Secret:          cfg.Sync.Secret,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    cfg.Sync.TriggerTimeout + 15*time.Second, // a trigger holds the request until the sync ends
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RequestsPerSec:  5,
		Burst:           10,
	}

	server, err := api.NewServer(serverConfig, deps)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
