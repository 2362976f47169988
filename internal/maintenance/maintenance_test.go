package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/alerts"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/scheduler"
)

var now = time.Date(2026, 5, 10, 2, 0, 0, 0, time.UTC)

type fakeNotifications struct {
	failedCutoff time.Time
	since        time.Time
	deleted      int64
	failures     int
	deleteErr    error
	countErr     error
}

func (f *fakeNotifications) DeleteFailedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.failedCutoff = cutoff
	return f.deleted, f.deleteErr
}

func (f *fakeNotifications) RecentFailures(_ context.Context, since time.Time) (int, error) {
	f.since = since
	return f.failures, f.countErr
}

type fakeSubscriptions struct {
	unverifiedCutoff, inactiveCutoff time.Time
}

func (f *fakeSubscriptions) DeleteUnverifiedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.unverifiedCutoff = cutoff
	return 4, nil
}

func (f *fakeSubscriptions) DeleteInactiveBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.inactiveCutoff = cutoff
	return 2, nil
}

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

type fakeUpstream struct {
	name string
	err  error
}

func (f fakeUpstream) Probe(context.Context) (string, error) { return f.name, f.err }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(db Database, up Upstream, n *fakeNotifications, s *fakeSubscriptions) *Service {
	svc := New(db, up, n, s, DefaultConfig(), quietLogger())
	svc.now = func() time.Time { return now }
	return svc
}

func TestCleanupRetentionWindows(t *testing.T) {
	n := &fakeNotifications{deleted: 7}
	s := &fakeSubscriptions{}
	svc := newService(nil, nil, n, s)

	res, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.FailedNotifications)
	assert.Equal(t, int64(4), res.UnverifiedSubscriptions)
	assert.Equal(t, int64(2), res.InactiveSubscriptions)

	assert.Equal(t, now.AddDate(0, 0, -30), n.failedCutoff)
	assert.Equal(t, now.AddDate(0, 0, -7), s.unverifiedCutoff)
	assert.Equal(t, now.AddDate(0, 0, -90), s.inactiveCutoff)
}

func TestCleanupContinuesAfterFailure(t *testing.T) {
	n := &fakeNotifications{deleteErr: errors.New("lock timeout")}
	s := &fakeSubscriptions{}
	svc := newService(nil, nil, n, s)

	res, err := svc.Cleanup(context.Background())
	assert.ErrorContains(t, err, "failed notifications: lock timeout")
	assert.Zero(t, res.FailedNotifications)
	assert.Equal(t, int64(4), res.UnverifiedSubscriptions, "later steps still run")
	assert.Equal(t, int64(2), res.InactiveSubscriptions)
}

func TestHealthCheckOK(t *testing.T) {
	n := &fakeNotifications{failures: 3}
	svc := newService(fakeDB{}, fakeUpstream{name: "openweather"}, n, &fakeSubscriptions{})

	rep := svc.HealthCheck(context.Background())
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, StatusOK, rep.Database.Status)
	assert.Equal(t, "openweather", rep.Upstream.Source)
	assert.Equal(t, 3, rep.RecentFailures)
	assert.Equal(t, now.Add(-time.Hour), n.since)
	assert.Empty(t, rep.Warnings)
}

func TestHealthCheckFailureThreshold(t *testing.T) {
	svc := newService(fakeDB{}, fakeUpstream{name: "openweather"}, &fakeNotifications{failures: 50}, &fakeSubscriptions{})
	assert.Equal(t, StatusOK, svc.HealthCheck(context.Background()).Status, "threshold itself is not a warning")

	svc = newService(fakeDB{}, fakeUpstream{name: "openweather"}, &fakeNotifications{failures: 51}, &fakeSubscriptions{})
	rep := svc.HealthCheck(context.Background())
	assert.Equal(t, StatusWarning, rep.Status)
	require.Len(t, rep.Warnings, 1)
	assert.Contains(t, rep.Warnings[0], "51 failed notifications")
}

func TestHealthCheckUpstreamDown(t *testing.T) {
	svc := newService(fakeDB{}, fakeUpstream{name: "openweather", err: errors.New("timeout")}, &fakeNotifications{failures: 99}, &fakeSubscriptions{})

	rep := svc.HealthCheck(context.Background())
	assert.Equal(t, StatusDegraded, rep.Status, "degraded outranks warning")
	assert.Equal(t, StatusUnhealthy, rep.Upstream.Status)
	assert.Equal(t, "timeout", rep.Upstream.Error)
	assert.Len(t, rep.Warnings, 2)
}

func TestHealthCheckSyntheticOnly(t *testing.T) {
	svc := newService(fakeDB{}, fakeUpstream{err: aqi.ErrNoUpstream}, &fakeNotifications{}, &fakeSubscriptions{})

	rep := svc.HealthCheck(context.Background())
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, StatusSkipped, rep.Upstream.Status)
	assert.Equal(t, "synthetic", rep.Upstream.Source)
}

func TestHealthCheckDatabaseDown(t *testing.T) {
	n := &fakeNotifications{}
	svc := newService(fakeDB{err: errors.New("connection refused")}, fakeUpstream{name: "waqi"}, n, &fakeSubscriptions{})

	rep := svc.HealthCheck(context.Background())
	assert.Equal(t, StatusUnhealthy, rep.Status)
	assert.True(t, n.since.IsZero(), "failure count skipped without a database")
}

type fakeMonitor struct{ runs int }

func (f *fakeMonitor) Run(context.Context, bool) (alerts.Summary, error) {
	f.runs++
	return alerts.Summary{}, nil
}

type fakeRetrier struct{ err error }

func (f fakeRetrier) RetryDue(context.Context) (notifications.RetrySummary, error) {
	return notifications.RetrySummary{}, f.err
}

func TestRegisterJobs(t *testing.T) {
	sched := scheduler.New(quietLogger())
	mon := &fakeMonitor{}
	svc := newService(fakeDB{err: errors.New("down")}, nil, &fakeNotifications{}, &fakeSubscriptions{})

	err := Register(sched, mon, fakeRetrier{err: errors.New("db")}, svc, Intervals{
		Check:       30 * time.Minute,
		Health:      time.Hour,
		Retry:       5 * time.Minute,
		CleanupHour: 2,
	})
	require.NoError(t, err)

	names := []string{}
	for _, st := range sched.Status() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{JobMonitor, JobCleanup, JobHealth, JobRetry}, names)

	require.NoError(t, sched.Trigger(context.Background(), JobMonitor))
	assert.Equal(t, 1, mon.runs)
	require.NoError(t, sched.Trigger(context.Background(), JobCleanup))
	assert.ErrorContains(t, sched.Trigger(context.Background(), JobHealth), "system unhealthy")
	assert.ErrorContains(t, sched.Trigger(context.Background(), JobRetry), "db")

	st, err := sched.JobStatus(JobCleanup)
	require.NoError(t, err)
	assert.Equal(t, "daily at 02:00 UTC", st.Schedule)
}

func TestRegisterSkipsDisabled(t *testing.T) {
	sched := scheduler.New(quietLogger())
	err := Register(sched, &fakeMonitor{}, nil, nil, Intervals{Check: time.Minute, CleanupHour: -1})
	require.NoError(t, err)
	require.Len(t, sched.Status(), 1)
	assert.Equal(t, JobMonitor, sched.Status()[0].Name)
}
