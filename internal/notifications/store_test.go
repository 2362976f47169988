package notifications

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/db/dbtest"
)

func TestMain(m *testing.M) {
	os.Exit(dbtest.Main(m))
}

func newPGStore(t *testing.T) *PGStore {
	return NewPGStore(dbtest.Pool(t).Pool)
}

// row builds a notification in the given delivery state, created at created.
func row(status DeliveryStatus, attempts int, nextRetry *time.Time, created time.Time) *Notification {
	n := &Notification{
		ID:        uuid.New(),
		Kind:      KindAlert,
		Channel:   ChannelEmail,
		Recipient: "ana@example.com",
		Subject:   "Air quality alert",
		Body:      "AQI 150",
		Delivery: Delivery{
			Status:      status,
			Attempts:    attempts,
			MaxAttempts: MaxAttempts,
			NextRetryAt: nextRetry,
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
	if status == StatusFailed {
		n.Delivery.FailedAt = &created
	}
	return n
}

func insertAll(t *testing.T, s *PGStore, rows ...*Notification) {
	t.Helper()
	for _, n := range rows {
		require.NoError(t, s.Insert(context.Background(), n))
	}
}

func TestPGStoreDueForRetrySelection(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	due := row(StatusPending, 1, &past, now)
	notYet := row(StatusPending, 1, &future, now)
	exhausted := row(StatusPending, MaxAttempts, &past, now)
	failed := row(StatusFailed, 1, &past, now)
	unscheduled := row(StatusPending, 0, nil, now)
	insertAll(t, s, due, notYet, exhausted, failed, unscheduled)

	got, err := s.DueForRetry(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestPGStoreFailedRetryable(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	now := time.Now()

	retryable := row(StatusFailed, 1, nil, now)
	spent := row(StatusFailed, MaxAttempts, nil, now)
	sent := row(StatusSent, 1, nil, now)
	insertAll(t, s, retryable, spent, sent)

	got, err := s.FailedRetryable(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, retryable.ID, got[0].ID)
}

func TestPGStoreSnapshotAndUpdate(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	observed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	n := row(StatusPending, 0, nil, time.Now())
	n.Snapshot = &Snapshot{
		AQI: 155, Category: "Unhealthy", Location: "Denver, CO", ObservedAt: observed, Source: "openweather",
		Pollutants: aqi.Pollutants{PM25: 55.4, O3: 70},
	}
	insertAll(t, s, n)

	got, err := s.Get(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Snapshot)
	assert.Equal(t, 155, got.Snapshot.AQI)
	assert.True(t, observed.Equal(got.Snapshot.ObservedAt))
	assert.InDelta(t, 55.4, got.Snapshot.Pollutants.PM25, 0.001)
	assert.Nil(t, got.SubscriptionID)

	require.NoError(t, got.MarkSent("smtp", "msg-1", time.Now()))
	require.NoError(t, s.Update(ctx, got))

	got, err = s.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Delivery.Status)
	assert.Equal(t, "msg-1", got.ProviderMessageID)

	missing := row(StatusPending, 0, nil, time.Now())
	assert.ErrorIs(t, s.Update(ctx, missing), apperr.ErrNotFound)
	_, err = s.Get(ctx, missing.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPGStoreRetentionAndFailureCount(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	now := time.Now()
	old := now.Add(-40 * 24 * time.Hour)

	oldFailed := row(StatusFailed, MaxAttempts, nil, old)
	recentFailed := row(StatusFailed, 1, nil, now.Add(-10*time.Minute))
	oldSent := row(StatusSent, 1, nil, old)
	insertAll(t, s, oldFailed, recentFailed, oldSent)

	n, err := s.RecentFailures(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deleted, err := s.DeleteFailedBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.Get(ctx, oldFailed.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.Get(ctx, oldSent.ID)
	assert.NoError(t, err, "only failed notifications are purged")
}

func TestPGStoreStats(t *testing.T) {
	ctx := context.Background()
	s := newPGStore(t)
	now := time.Now()

	sms := row(StatusDelivered, 1, nil, now)
	sms.Channel = ChannelSMS
	insertAll(t, s,
		row(StatusSent, 1, nil, now),
		sms,
		row(StatusFailed, 1, nil, now.Add(-48*time.Hour)),
		row(StatusPending, 0, nil, now),
	)

	st, err := s.Stats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Last24h)
	assert.Equal(t, 1, st.ByChannel["sms"])
	assert.Equal(t, 4, st.ByKind[string(KindAlert)])
	assert.InDelta(t, 66.67, st.SuccessRate, 0.01)
}
