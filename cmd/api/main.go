// Command api is the Breathe Easy API server. It also runs the background
// alert, retry, cleanup and health-check jobs.
//
// Usage:
//
//	breatheasy-api
//	API_PORT=8080 breatheasy-api

// @title Breathe Easy API
// @version 1.0.0
// @description Air-quality alert subscriptions: current, forecast and historical AQI, threshold alerts over email and SMS, and admin tooling.
// @host localhost:5000
// @BasePath /
// @schemes http https
// @contact.name Breathe Easy
// @license.name MIT
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/albapepper/breatheasy/internal/api"
	"github.com/albapepper/breatheasy/internal/api/handler"
	"github.com/albapepper/breatheasy/internal/app"
	"github.com/albapepper/breatheasy/internal/config"
	"github.com/albapepper/breatheasy/internal/db"

	_ "github.com/albapepper/breatheasy/docs" // swagger docs
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load .env if present
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Debug {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Connecting to database...")
	pool, err := db.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("Database connected",
		"min_conns", cfg.DBPoolMinConns,
		"max_conns", cfg.DBPoolMaxConns)

	a, err := app.New(ctx, cfg, pool, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.Cache.EvictLoop(ctx, time.Minute)
	a.Scheduler.StartAll()
	logger.Info("Background jobs started",
		"check_interval", cfg.CheckInterval,
		"cleanup_hour_utc", cfg.CleanupHour)

	router := api.NewRouter(handler.New(a.HandlerDeps()), cfg)

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute, // manual alert checks run inline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting Breathe Easy API",
			"addr", addr,
			"environment", cfg.Environment,
			"docs", fmt.Sprintf("http://localhost:%d/docs/", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
	logger.Info("Server stopped")
}
