// Package alerts decides, for every alert-eligible subscription, whether the
// current AQI at its location warrants a notification and hands those that do
// to the notification dispatcher.
//
// Eligible subscriptions are processed in fixed-size batches: batches run one
// after another with a pause between them to pace upstream calls, and the
// subscriptions inside a batch run concurrently. A failure for one
// subscription is logged and counted; it never aborts the run.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/geocode"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// --------------------------------------------------------------------------
// Collaborators
// --------------------------------------------------------------------------

// Subscriptions loads candidates and records checks. Get reloads a
// candidate once it is locked.
type Subscriptions interface {
	ListAlertable(ctx context.Context) ([]subscription.Subscription, error)
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	TouchAQICheck(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Readings fetches the current AQI for a point.
type Readings interface {
	Current(ctx context.Context, lat, lon float64, label string) (aqi.Reading, error)
}

// Geocoder resolves a location name when a subscription has no coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (geocode.Place, error)
}

// Dispatcher sends an alert over the subscription's channels.
type Dispatcher interface {
	SendAlert(ctx context.Context, sub *subscription.Subscription, reading aqi.Reading) (notifications.Result, error)
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Options tune pacing and cooldown.
type Options struct {
	Cooldown   time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

// DefaultOptions are the production defaults.
func DefaultOptions() Options {
	return Options{
		Cooldown:   2 * time.Hour,
		BatchSize:  10,
		BatchDelay: 2 * time.Second,
	}
}

// Summary counts one evaluation run.
type Summary struct {
	Total      int   `json:"total"`
	Eligible   int   `json:"eligible"`
	Checked    int   `json:"checked"`
	Alerts     int   `json:"alerts"`
	Errors     int   `json:"errors"`
	Skipped    int   `json:"skipped"`
	Batches    int   `json:"batches"`
	DurationMS int64 `json:"durationMs"`
}

// Evaluator runs alert checks.
type Evaluator struct {
	subs       Subscriptions
	readings   Readings
	geocoder   Geocoder
	dispatcher Dispatcher
	guard      Guard
	opts       Options
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Evaluator. guard may be nil, in which case an in-process
// guard is used.
func New(subs Subscriptions, readings Readings, geocoder Geocoder, dispatcher Dispatcher, guard Guard, opts Options, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = NewLocalGuard()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	return &Evaluator{
		subs:       subs,
		readings:   readings,
		geocoder:   geocoder,
		dispatcher: dispatcher,
		guard:      guard,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Run
// --------------------------------------------------------------------------

// Run loads every active, verified subscription and evaluates it. force
// bypasses the cooldown and the notification window.
func (e *Evaluator) Run(ctx context.Context, force bool) (Summary, error) {
	subs, err := e.subs.ListAlertable(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load subscriptions: %w", err)
	}
	return e.Evaluate(ctx, subs, force), nil
}

// Evaluate checks the given subscriptions. Inactive or unverified ones are
// always excluded.
func (e *Evaluator) Evaluate(ctx context.Context, subs []subscription.Subscription, force bool) Summary {
	start := time.Now()
	now := e.now()
	sum := Summary{Total: len(subs)}

	eligible := make([]*subscription.Subscription, 0, len(subs))
	for i := range subs {
		s := &subs[i]
		switch {
		case !s.Eligible():
			sum.Skipped++
		case !force && !s.ShouldNotify(now, e.opts.Cooldown):
			sum.Skipped++
		case !force && !s.WithinNotificationWindow(now):
			sum.Skipped++
		default:
			eligible = append(eligible, s)
		}
	}
	sum.Eligible = len(eligible)

	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case o.skipped:
			sum.Skipped++
		default:
			if o.checked {
				sum.Checked++
			}
			if o.alerted {
				sum.Alerts++
			}
			if o.err != nil {
				sum.Errors++
			}
		}
	}

	for b := 0; b*e.opts.BatchSize < len(eligible); b++ {
		if b > 0 {
			if err := e.sleep(ctx, e.opts.BatchDelay); err != nil {
				e.logger.Warn("Alert run interrupted", "batch", b, "error", err)
				break
			}
		}
		lo := b * e.opts.BatchSize
		hi := min(lo+e.opts.BatchSize, len(eligible))
		sum.Batches++

		var wg sync.WaitGroup
		for _, s := range eligible[lo:hi] {
			wg.Add(1)
			go func(s *subscription.Subscription) {
				defer wg.Done()
				record(e.process(ctx, s, force))
			}(s)
		}
		wg.Wait()
	}

	sum.DurationMS = time.Since(start).Milliseconds()
	e.logger.Info("Alert run complete",
		"total", sum.Total, "eligible", sum.Eligible, "checked", sum.Checked,
		"alerts", sum.Alerts, "errors", sum.Errors, "skipped", sum.Skipped,
		"batches", sum.Batches, "force", force, "duration_ms", sum.DurationMS)
	return sum
}

type outcome struct {
	skipped bool
	checked bool
	alerted bool
	err     error
}

// process handles one subscription. Panics are converted to errors so one
// bad record cannot take down the batch.
//
// The listed copy may be stale when runs overlap, so the subscription is
// reloaded under the guard and the cooldown checked again before sending.
func (e *Evaluator) process(ctx context.Context, s *subscription.Subscription, force bool) (out outcome) {
	log := e.logger.With("subscription_id", s.ID, "location", s.Location.Name)
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic: %v", r)
			log.Error("Alert check panicked", "panic", r)
		}
	}()

	release, ok, err := e.guard.Acquire(ctx, s.ID.String())
	switch {
	case err != nil:
		log.Warn("In-flight guard unavailable, proceeding unguarded", "error", err)
	case !ok:
		log.Debug("Subscription already being processed")
		return outcome{skipped: true}
	default:
		defer release()
	}

	fresh, err := e.subs.Get(ctx, s.ID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return outcome{skipped: true}
	case err != nil:
		out.err = fmt.Errorf("reload subscription: %w", err)
		log.Warn("Failed to reload subscription", "error", err)
		return out
	}
	if !fresh.Eligible() || (!force && !fresh.ShouldNotify(e.now(), e.opts.Cooldown)) {
		log.Debug("Subscription no longer due")
		return outcome{skipped: true}
	}
	s = fresh

	lat, lon, has := s.Coordinates()
	if !has {
		if e.geocoder == nil {
			out.err = fmt.Errorf("no coordinates and no geocoder")
			log.Warn("Cannot resolve location", "error", out.err)
			return out
		}
		place, err := e.geocoder.Resolve(ctx, s.Location.Name)
		if err != nil {
			out.err = fmt.Errorf("geocode: %w", err)
			log.Warn("Geocoding failed", "error", err)
			return out
		}
		lat, lon = place.Latitude, place.Longitude
	}

	reading, err := e.readings.Current(ctx, lat, lon, s.Location.Name)
	if err != nil {
		out.err = fmt.Errorf("fetch AQI: %w", err)
		log.Warn("AQI fetch failed", "error", err)
		return out
	}
	out.checked = true

	if err := e.subs.TouchAQICheck(ctx, s.ID, e.now()); err != nil {
		log.Warn("Failed to record AQI check", "error", err)
	}

	if reading.AQI < s.Preferences.AQIThreshold {
		return out
	}

	res, err := e.dispatcher.SendAlert(ctx, s, reading)
	if err != nil {
		out.err = err
		log.Error("Alert dispatch bookkeeping failed", "error", err)
	}
	if res.Success {
		out.alerted = true
		log.Info("AQI alert sent", "aqi", reading.AQI, "threshold", s.Preferences.AQIThreshold, "source", reading.Source)
	} else if len(res.Channels) > 0 {
		log.Warn("AQI alert not delivered on any channel", "aqi", reading.AQI)
	}
	return out
}
