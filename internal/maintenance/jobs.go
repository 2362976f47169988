package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/albapepper/breatheasy/internal/alerts"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/scheduler"
)

// Registered job names.
const (
	JobMonitor = "aqi-monitor"
	JobCleanup = "cleanup"
	JobHealth  = "health-check"
	JobRetry   = "notification-retry"
)

// Monitor runs one alert evaluation pass.
type Monitor interface {
	Run(ctx context.Context, force bool) (alerts.Summary, error)
}

// Retrier re-sends notifications whose backoff has elapsed.
type Retrier interface {
	RetryDue(ctx context.Context) (notifications.RetrySummary, error)
}

// Intervals controls job cadence. A zero duration disables the job.
type Intervals struct {
	Check       time.Duration
	Health      time.Duration
	Retry       time.Duration
	CleanupHour int // negative disables the daily cleanup
	Location    *time.Location
}

// Register adds the background jobs to s. Jobs are added stopped; the caller
// starts them with StartAll.
func Register(s *scheduler.Scheduler, monitor Monitor, retrier Retrier, svc *Service, iv Intervals) error {
	type job struct {
		name     string
		schedule scheduler.Schedule
		task     scheduler.Task
	}
	var jobs []job

	if iv.Check > 0 && monitor != nil {
		jobs = append(jobs, job{JobMonitor, scheduler.Every(iv.Check), func(ctx context.Context) error {
			_, err := monitor.Run(ctx, false)
			return err
		}})
	}

	if iv.CleanupHour >= 0 && svc != nil {
		jobs = append(jobs, job{JobCleanup, scheduler.DailyAt(iv.CleanupHour, 0, iv.Location), func(ctx context.Context) error {
			_, err := svc.Cleanup(ctx)
			return err
		}})
	}

	if iv.Health > 0 && svc != nil {
		jobs = append(jobs, job{JobHealth, scheduler.Every(iv.Health), func(ctx context.Context) error {
			if rep := svc.HealthCheck(ctx); rep.Status == StatusUnhealthy {
				return fmt.Errorf("system unhealthy: %v", rep.Warnings)
			}
			return nil
		}})
	}

	if iv.Retry > 0 && retrier != nil {
		jobs = append(jobs, job{JobRetry, scheduler.Every(iv.Retry), func(ctx context.Context) error {
			_, err := retrier.RetryDue(ctx)
			return err
		}})
	}

	for _, j := range jobs {
		if _, err := s.Add(j.name, j.schedule, j.task); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}
