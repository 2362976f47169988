// Package maintenance implements the housekeeping jobs: retention cleanup of
// stale notifications and subscriptions, and a periodic health check of the
// database, the AQI upstream and recent delivery failures.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/breatheasy/internal/aqi"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Notifications is the part of the notification store maintenance touches.
type Notifications interface {
	DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RecentFailures(ctx context.Context, since time.Time) (int, error)
}

// Subscriptions is the part of the subscription store maintenance touches.
type Subscriptions interface {
	DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Database reports datastore reachability.
type Database interface {
	HealthCheck(ctx context.Context) error
}

// Upstream probes the primary AQI source.
type Upstream interface {
	Probe(ctx context.Context) (string, error)
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// Config controls retention windows and health thresholds.
type Config struct {
	FailedNotificationRetention time.Duration // failed notifications
	UnverifiedRetention         time.Duration // never-verified subscriptions
	InactiveRetention           time.Duration // unsubscribed subscriptions
	FailureWindow               time.Duration
	FailureWarnThreshold        int
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		FailedNotificationRetention: 30 * 24 * time.Hour,
		UnverifiedRetention:         7 * 24 * time.Hour,
		InactiveRetention:           90 * 24 * time.Hour,
		FailureWindow:               time.Hour,
		FailureWarnThreshold:        50,
	}
}

// Service runs the housekeeping tasks.
type Service struct {
	db            Database
	upstream      Upstream
	notifications Notifications
	subscriptions Subscriptions
	cfg           Config
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a maintenance Service. db and upstream may be nil, in which
// case the matching health check is reported as skipped.
func New(db Database, upstream Upstream, n Notifications, s Subscriptions, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:            db,
		upstream:      upstream,
		notifications: n,
		subscriptions: s,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// --------------------------------------------------------------------------
// Cleanup
// --------------------------------------------------------------------------

// CleanupResult counts deleted rows per category.
type CleanupResult struct {
	FailedNotifications     int64 `json:"failedNotifications"`
	UnverifiedSubscriptions int64 `json:"unverifiedSubscriptions"`
	InactiveSubscriptions   int64 `json:"inactiveSubscriptions"`
	DurationMS              int64 `json:"durationMs"`
}

// Cleanup purges failed notifications, never-verified subscriptions and
// long-unsubscribed subscriptions past their retention windows. Each step
// runs even when an earlier one fails; the joined error is returned with
// whatever counts succeeded.
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	start := time.Now()
	now := s.now()
	var res CleanupResult
	var errs []error

	step := func(name string, fn func() (int64, error), into *int64) {
		n, err := fn()
		if err != nil {
			s.logger.Warn("Cleanup: step failed", "step", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*into = n
		if n > 0 {
			s.logger.Info("Cleanup: purged rows", "step", name, "count", n)
		}
	}

	step("failed notifications", func() (int64, error) {
		return s.notifications.DeleteFailedBefore(ctx, now.Add(-s.cfg.FailedNotificationRetention))
	}, &res.FailedNotifications)

	step("unverified subscriptions", func() (int64, error) {
		return s.subscriptions.DeleteUnverifiedBefore(ctx, now.Add(-s.cfg.UnverifiedRetention))
	}, &res.UnverifiedSubscriptions)

	step("inactive subscriptions", func() (int64, error) {
		return s.subscriptions.DeleteInactiveBefore(ctx, now.Add(-s.cfg.InactiveRetention))
	}, &res.InactiveSubscriptions)

	res.DurationMS = time.Since(start).Milliseconds()
	s.logger.Info("Cleanup complete",
		"failed_notifications", res.FailedNotifications,
		"unverified_subscriptions", res.UnverifiedSubscriptions,
		"inactive_subscriptions", res.InactiveSubscriptions,
		"duration_ms", res.DurationMS)
	return res, errors.Join(errs...)
}

// --------------------------------------------------------------------------
// Health
// --------------------------------------------------------------------------

// Overall and per-check health states.
const (
	StatusOK        = "ok"
	StatusWarning   = "warning"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusSkipped   = "skipped"
)

// Check is the outcome of one probe.
type Check struct {
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Report is the result of a health check run.
type Report struct {
	Status         string    `json:"status"`
	CheckedAt      time.Time `json:"checkedAt"`
	Database       Check     `json:"database"`
	Upstream       Check     `json:"upstream"`
	RecentFailures int       `json:"recentFailures"`
	FailureWindow  string    `json:"failureWindow"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// HealthCheck probes the database and the primary AQI source and counts
// delivery failures in the configured window. The overall status is the
// worst of: unhealthy (database down), degraded (upstream down), warning
// (failures above threshold).
func (s *Service) HealthCheck(ctx context.Context) Report {
	now := s.now()
	rep := Report{
		Status:        StatusOK,
		CheckedAt:     now,
		FailureWindow: s.cfg.FailureWindow.String(),
	}

	rep.Database = timed(func() (string, error) {
		if s.db == nil {
			return "", errSkipped
		}
		return "postgres", s.db.HealthCheck(ctx)
	})
	rep.Upstream = timed(func() (string, error) {
		if s.upstream == nil {
			return "", errSkipped
		}
		name, err := s.upstream.Probe(ctx)
		if errors.Is(err, aqi.ErrNoUpstream) {
			return "synthetic", errSkipped
		}
		return name, err
	})

	if rep.Database.Status == StatusUnhealthy {
		rep.Status = StatusUnhealthy
		rep.Warnings = append(rep.Warnings, "database unreachable")
		s.logger.Error("Health check: database unreachable", "error", rep.Database.Error)
	}
	if rep.Upstream.Status == StatusUnhealthy {
		rep.Status = worse(rep.Status, StatusDegraded)
		rep.Warnings = append(rep.Warnings, "AQI upstream unreachable")
		s.logger.Warn("Health check: AQI upstream unreachable", "source", rep.Upstream.Source, "error", rep.Upstream.Error)
	}

	if rep.Database.Status == StatusOK {
		n, err := s.notifications.RecentFailures(ctx, now.Add(-s.cfg.FailureWindow))
		if err != nil {
			s.logger.Warn("Health check: failed to count delivery failures", "error", err)
		} else {
			rep.RecentFailures = n
			if n > s.cfg.FailureWarnThreshold {
				rep.Status = worse(rep.Status, StatusWarning)
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d failed notifications in the last %s", n, s.cfg.FailureWindow))
				s.logger.Warn("Health check: high notification failure rate",
					"failures", n, "threshold", s.cfg.FailureWarnThreshold, "window", s.cfg.FailureWindow)
			}
		}
	}

	s.logger.Info("Health check complete",
		"status", rep.Status,
		"database", rep.Database.Status,
		"upstream", rep.Upstream.Status,
		"recent_failures", rep.RecentFailures)
	return rep
}

var errSkipped = errors.New("skipped")

func timed(fn func() (string, error)) Check {
	start := time.Now()
	source, err := fn()
	c := Check{Source: source, LatencyMS: time.Since(start).Milliseconds()}
	switch {
	case errors.Is(err, errSkipped):
		c.Status = StatusSkipped
	case err != nil:
		c.Status = StatusUnhealthy
		c.Error = err.Error()
	default:
		c.Status = StatusOK
	}
	return c
}

var severity = map[string]int{
	StatusOK:        0,
	StatusWarning:   1,
	StatusDegraded:  2,
	StatusUnhealthy: 3,
}

func worse(a, b string) string {
	if severity[b] > severity[a] {
		return b
	}
	return a
}
