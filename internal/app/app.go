// Package app wires the stores, providers, transports and background jobs
// shared by the API server and the aqictl CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/breatheasy/internal/alerts"
	"github.com/albapepper/breatheasy/internal/api/handler"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/cache"
	"github.com/albapepper/breatheasy/internal/config"
	"github.com/albapepper/breatheasy/internal/db"
	"github.com/albapepper/breatheasy/internal/geocode"
	"github.com/albapepper/breatheasy/internal/maintenance"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/scheduler"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// guardTTL bounds how long a crashed worker can hold a subscription lock.
const guardTTL = 5 * time.Minute

// App holds every wired component.
type App struct {
	Config        *config.Config
	Pool          *db.Pool
	Subscriptions *subscription.Store
	Notifications *notifications.PGStore
	AQI           *aqi.Service
	Geocoder      *geocode.Client
	Dispatcher    *notifications.Dispatcher
	Evaluator     *alerts.Evaluator
	Maintenance   *maintenance.Service
	Scheduler     *scheduler.Scheduler
	Cache         *cache.Cache
	Logger        *slog.Logger

	closeGuard func() error
}

// New builds the component graph over an open pool and registers the
// background jobs. Jobs are not started.
func New(ctx context.Context, cfg *config.Config, pool *db.Pool, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Pool: pool, Logger: logger}

	a.Subscriptions = subscription.NewStore(pool.Pool)
	a.Notifications = notifications.NewPGStore(pool.Pool)

	sources := aqi.ConfiguredSources(cfg.OpenWeatherAPIKey, cfg.WAQIToken, cfg.AQIRequestTimeout, logger)
	a.AQI = aqi.NewService(sources, !cfg.IsProduction(), logger)
	a.Geocoder = geocode.New(cfg.OpenWeatherAPIKey, cfg.AQIRequestTimeout, cfg.IsProduction(), logger)

	email, sms := transports(cfg, logger)
	a.Dispatcher = notifications.NewDispatcher(a.Notifications, a.Subscriptions, email, sms, cfg.PublicBaseURL, logger)

	guard, closeGuard, err := alerts.NewGuard(ctx, cfg.RedisURL, guardTTL)
	if err != nil {
		return nil, fmt.Errorf("alert guard: %w", err)
	}
	a.closeGuard = closeGuard
	a.Evaluator = alerts.New(a.Subscriptions, a.AQI, a.Geocoder, a.Dispatcher, guard, EvaluatorOptions(cfg), logger)

	mcfg := maintenance.DefaultConfig()
	mcfg.FailureWarnThreshold = cfg.FailureWarnThreshold
	a.Maintenance = maintenance.New(pool, a.AQI, a.Notifications, a.Subscriptions, mcfg, logger)

	a.Scheduler = scheduler.New(logger)
	if err := maintenance.Register(a.Scheduler, a.Evaluator, a.Dispatcher, a.Maintenance, Intervals(cfg)); err != nil {
		closeGuard()
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	a.Cache = cache.New(cfg.CacheEnabled)

	logger.Info("Components ready",
		"aqi_sources", a.AQI.SourceNames(),
		"email", a.Dispatcher.EmailEnabled(),
		"sms", a.Dispatcher.SMSEnabled(),
		"redis_guard", cfg.RedisURL != "")
	return a, nil
}

// HandlerDeps exposes the components to the HTTP handlers.
func (a *App) HandlerDeps() handler.Deps {
	return handler.Deps{
		Subscriptions: a.Subscriptions,
		Notifications: a.Notifications,
		Dispatcher:    a.Dispatcher,
		AQI:           a.AQI,
		Geocoder:      a.Geocoder,
		Evaluator:     a.Evaluator,
		Maintenance:   a.Maintenance,
		Jobs:          a.Scheduler,
		Cache:         a.Cache,
		Config:        a.Config,
		Logger:        a.Logger,
	}
}

// Close stops the jobs and releases the guard. The pool is owned by the
// caller.
func (a *App) Close() {
	a.Scheduler.StopAll()
	if err := a.closeGuard(); err != nil {
		a.Logger.Warn("Failed to close alert guard", "error", err)
	}
}

// EvaluatorOptions maps configuration onto the evaluator's pacing.
func EvaluatorOptions(cfg *config.Config) alerts.Options {
	opts := alerts.DefaultOptions()
	if cfg.NotificationCooldown > 0 {
		opts.Cooldown = cfg.NotificationCooldown
	}
	if cfg.AlertBatchSize > 0 {
		opts.BatchSize = cfg.AlertBatchSize
	}
	if cfg.AlertBatchDelay >= 0 {
		opts.BatchDelay = cfg.AlertBatchDelay
	}
	return opts
}

// Intervals maps configuration onto the job schedule. Cleanup runs at
// CleanupHour UTC.
func Intervals(cfg *config.Config) maintenance.Intervals {
	return maintenance.Intervals{
		Check:       cfg.CheckInterval,
		Health:      cfg.HealthCheckInterval,
		Retry:       cfg.RetryInterval,
		CleanupHour: cfg.CleanupHour,
		Location:    time.UTC,
	}
}

func transports(cfg *config.Config, logger *slog.Logger) (email, sms notifications.Transport) {
	var smtp *notifications.SMTPTransport
	if cfg.SMTPHost != "" {
		smtp = notifications.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.EmailFrom, logger)
	}
	var brevo *notifications.BrevoTransport
	if cfg.BrevoAPIKey != "" {
		brevo = notifications.NewBrevoTransport(cfg.BrevoAPIKey, cfg.EmailFrom, logger)
	}
	email = notifications.EmailTransport(smtp, brevo)

	if cfg.SMSConfigured() {
		sms = notifications.SMSTransport(notifications.NewTwilioTransport(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger))
	}
	return email, sms
}
