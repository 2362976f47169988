package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Notification
}

func newMemStore() *memStore { return &memStore{rows: map[uuid.UUID]*Notification{}} }

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memStore) Update(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[n.ID]; !ok {
		return apperr.ErrNotFound
	}
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) DueForRetry(_ context.Context, now time.Time, _ int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.RetryDue(now) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memStore) FailedRetryable(_ context.Context, _ int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.rows {
		if n.Delivery.Status == StatusFailed && !n.Terminal() {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memStore) all() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.rows {
		out = append(out, n)
	}
	return out
}

type memSubs struct {
	mu       sync.Mutex
	subs     map[uuid.UUID]*subscription.Subscription
	notified map[uuid.UUID]int
}

func newMemSubs(subs ...*subscription.Subscription) *memSubs {
	m := &memSubs{subs: map[uuid.UUID]*subscription.Subscription{}, notified: map[uuid.UUID]int{}}
	for _, s := range subs {
		m.subs[s.ID] = s
	}
	return m
}

func (m *memSubs) Get(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return s, nil
}

func (m *memSubs) MarkNotified(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified[id]++
	return nil
}

func (m *memSubs) List(_ context.Context, f subscription.ListFilter) ([]subscription.Subscription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range m.subs {
		if f.Active != nil && s.Status.IsActive != *f.Active {
			continue
		}
		out = append(out, *s)
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	return out[f.Offset:], total, nil
}

type fakeTransport struct {
	name  string
	fail  error
	mu    sync.Mutex
	sent  []string
	texts []string
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(_ context.Context, to string, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, msg.Text)
	return fmt.Sprintf("%s-%d", f.name, len(f.sent)), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSub(email, sms bool) *subscription.Subscription {
	return &subscription.Subscription{
		ID:     uuid.New(),
		Email:  "jane@example.com",
		Mobile: "+15551234567",
		Location: subscription.Location{
			Name:     "Denver",
			Timezone: "UTC",
		},
		Preferences: subscription.Preferences{
			AQIThreshold:  100,
			Notifications: subscription.Channels{Email: email, SMS: sms},
		},
		Status: subscription.Status{IsActive: true, IsVerified: true},
	}
}

func reading(v int) aqi.Reading {
	c := aqi.CategoryFor(v)
	return aqi.Reading{
		AQI:        v,
		Category:   c.Label,
		Color:      c.Color,
		Location:   "Denver",
		Source:     "openweathermap",
		Timestamp:  t0,
		Pollutants: aqi.Pollutants{PM25: 55.2},
	}
}

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

// --------------------------------------------------------------------------
// SendAlert
// --------------------------------------------------------------------------

func TestSendAlertMarksNotifiedOnSuccess(t *testing.T) {
	sub := newSub(true, false)
	store, subs := newMemStore(), newMemSubs(sub)
	email := &fakeTransport{name: "smtp"}
	d := NewDispatcher(store, subs, email, nil, "https://breatheasy.test", quietLogger()).WithClock(fixedClock(t0))

	res, err := d.SendAlert(context.Background(), sub, reading(150))
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, ChannelEmail, res.Channels[0].Channel)
	assert.Equal(t, 1, subs.notified[sub.ID])
	require.NotNil(t, sub.Status.LastNotified)
	assert.Equal(t, t0, *sub.Status.LastNotified)
	assert.Equal(t, 1, sub.Status.NotificationCount)

	rows := store.all()
	require.Len(t, rows, 1)
	n := rows[0]
	assert.Equal(t, StatusSent, n.Delivery.Status)
	assert.Equal(t, 1, n.Delivery.Attempts)
	assert.Equal(t, "smtp-1", n.ProviderMessageID)
	require.NotNil(t, n.Snapshot)
	assert.Equal(t, 150, n.Snapshot.AQI)
	assert.Equal(t, "AQI Alert: 150 - Unhealthy for Sensitive Groups in Denver", n.Subject)
}

func TestSendAlertUnconfiguredEmailStillSendsSMS(t *testing.T) {
	sub := newSub(true, true)
	store, subs := newMemStore(), newMemSubs(sub)
	sms := &fakeTransport{name: "twilio"}
	d := NewDispatcher(store, subs, nil, sms, "", quietLogger()).WithClock(fixedClock(t0))

	res, err := d.SendAlert(context.Background(), sub, reading(180))
	require.NoError(t, err)

	require.Len(t, res.Channels, 1)
	assert.Equal(t, ChannelSMS, res.Channels[0].Channel)
	assert.True(t, res.Success)

	rows := store.all()
	require.Len(t, rows, 1, "no row for the unattempted email channel")
	assert.Equal(t, ChannelSMS, rows[0].Channel)
	assert.Equal(t, []string{"+15551234567"}, sms.sent)
	assert.Contains(t, sms.texts[0], "AQI ALERT: 180 (Unhealthy) in Denver. Exceeds your threshold of 100.")
}

func TestSendAlertSMSNeedsMobile(t *testing.T) {
	sub := newSub(false, true)
	sub.Mobile = ""
	store := newMemStore()
	d := NewDispatcher(store, newMemSubs(sub), nil, &fakeTransport{name: "twilio"}, "", quietLogger())

	res, err := d.SendAlert(context.Background(), sub, reading(300))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Channels)
	assert.Empty(t, store.all())
}

func TestSendAlertAllChannelsFail(t *testing.T) {
	sub := newSub(true, true)
	store, subs := newMemStore(), newMemSubs(sub)
	d := NewDispatcher(store, subs,
		&fakeTransport{name: "smtp", fail: errors.New("connection refused")},
		&fakeTransport{name: "twilio", fail: errors.New("21211 invalid number")},
		"", quietLogger()).WithClock(fixedClock(t0))

	res, err := d.SendAlert(context.Background(), sub, reading(200))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, res.Channels, 2)
	assert.Zero(t, subs.notified[sub.ID])
	assert.Nil(t, sub.Status.LastNotified, "failures apply no cooldown")

	for _, n := range store.all() {
		assert.Equal(t, StatusFailed, n.Delivery.Status)
		assert.Equal(t, 1, n.Delivery.Attempts)
		assert.NotNil(t, n.Delivery.FailedAt)
		assert.Nil(t, n.Delivery.NextRetryAt)
		assert.Contains(t, n.Delivery.Error, "delivery failed")
	}
}

func TestSendAlertOneChannelFailsOtherSucceeds(t *testing.T) {
	sub := newSub(true, true)
	subs := newMemSubs(sub)
	d := NewDispatcher(newMemStore(), subs,
		&fakeTransport{name: "smtp", fail: errors.New("down")},
		&fakeTransport{name: "twilio"},
		"", quietLogger())

	res, err := d.SendAlert(context.Background(), sub, reading(120))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, subs.notified[sub.ID])
}

// --------------------------------------------------------------------------
// Retries and callbacks
// --------------------------------------------------------------------------

func TestRetryDueUsesSnapshot(t *testing.T) {
	sub := newSub(true, false)
	store, subs := newMemStore(), newMemSubs(sub)
	email := &fakeTransport{name: "smtp"}
	d := NewDispatcher(store, subs, email, nil, "", quietLogger())

	n := newNotification(&sub.ID, KindAlert, ChannelEmail, sub.Email, Message{Subject: "old", HTML: "old"}, t0)
	n.Snapshot = SnapshotOf(reading(260))
	require.NoError(t, n.MarkFailed(errors.New("timeout"), t0))
	require.NoError(t, store.Insert(context.Background(), n))

	d.WithClock(fixedClock(t0.Add(time.Minute)))
	sum, err := d.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Attempted, "backoff not elapsed")

	d.WithClock(fixedClock(t0.Add(2 * time.Minute)))
	sum, err = d.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetrySummary{Attempted: 1, Sent: 1}, sum)

	got, err := store.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Delivery.Status)
	assert.Equal(t, 2, got.Delivery.Attempts)
	assert.Contains(t, email.texts[0], "Current AQI: 260 (Very Unhealthy)")
	assert.Zero(t, subs.notified[sub.ID], "retries do not move lastNotified")
}

func TestRetryDueExhausts(t *testing.T) {
	sub := newSub(true, false)
	store := newMemStore()
	d := NewDispatcher(store, newMemSubs(sub), &fakeTransport{name: "smtp", fail: errors.New("down")}, nil, "", quietLogger())

	n := newNotification(&sub.ID, KindAlert, ChannelEmail, sub.Email, Message{}, t0)
	n.Snapshot = SnapshotOf(reading(160))
	n.Delivery.Attempts = 1
	retryAt := t0
	n.Delivery.NextRetryAt = &retryAt
	require.NoError(t, store.Insert(context.Background(), n))

	d.WithClock(fixedClock(t0))
	sum, err := d.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	got, _ := store.Get(context.Background(), n.ID)
	assert.Equal(t, StatusPending, got.Delivery.Status)
	assert.Equal(t, 2, got.Delivery.Attempts)
	assert.Equal(t, t0.Add(4*time.Minute), *got.Delivery.NextRetryAt)

	d.WithClock(fixedClock(t0.Add(4 * time.Minute)))
	sum, err = d.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Exhausted)

	got, _ = store.Get(context.Background(), n.ID)
	assert.Equal(t, StatusFailed, got.Delivery.Status)
	assert.Equal(t, MaxAttempts, got.Delivery.Attempts)
	assert.Nil(t, got.Delivery.NextRetryAt)
}

func TestRetryFailedRequeues(t *testing.T) {
	sub := newSub(true, false)
	store := newMemStore()
	d := NewDispatcher(store, newMemSubs(sub), &fakeTransport{name: "smtp", fail: errors.New("down")}, nil, "", quietLogger()).
		WithClock(fixedClock(t0))

	n := newNotification(&sub.ID, KindAlert, ChannelEmail, sub.Email, Message{}, t0)
	n.Snapshot = SnapshotOf(reading(160))
	require.NoError(t, n.RecordSendFailure(errors.New("down"), t0))
	require.NoError(t, store.Insert(context.Background(), n))

	sum, err := d.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	got, _ := store.Get(context.Background(), n.ID)
	assert.Equal(t, StatusPending, got.Delivery.Status)
	require.NotNil(t, got.Delivery.NextRetryAt)
}

func TestRetryInactiveSubscriptionCountsAsFailure(t *testing.T) {
	sub := newSub(true, false)
	sub.Status.IsActive = false
	store := newMemStore()
	email := &fakeTransport{name: "smtp"}
	d := NewDispatcher(store, newMemSubs(sub), email, nil, "", quietLogger()).WithClock(fixedClock(t0))

	n := newNotification(&sub.ID, KindAlert, ChannelEmail, sub.Email, Message{}, t0)
	n.Snapshot = SnapshotOf(reading(160))
	n.Delivery.Attempts = 1
	n.Delivery.NextRetryAt = &t0
	require.NoError(t, store.Insert(context.Background(), n))

	_, err := d.RetryDue(context.Background())
	require.NoError(t, err)
	assert.Empty(t, email.sent)
}

func TestApplyCallback(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, newMemSubs(), nil, nil, "", quietLogger()).WithClock(fixedClock(t0))

	n := pending()
	require.NoError(t, n.MarkSent("smtp", "id", t0))
	require.NoError(t, store.Insert(context.Background(), n))

	got, err := d.ApplyCallback(context.Background(), n.ID, EventDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Delivery.Status)

	_, err = d.ApplyCallback(context.Background(), n.ID, EventFailed, "late failure")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = d.ApplyCallback(context.Background(), n.ID, "opened", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = d.ApplyCallback(context.Background(), uuid.New(), EventDelivered, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyCallbackFailedSchedulesRetry(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, newMemSubs(), nil, nil, "", quietLogger()).WithClock(fixedClock(t0))

	n := pending()
	require.NoError(t, n.MarkSent("twilio", "SM1", t0))
	require.NoError(t, store.Insert(context.Background(), n))

	got, err := d.ApplyCallback(context.Background(), n.ID, EventFailed, "carrier rejected")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Delivery.Status, "second attempt is below the limit")
	assert.Equal(t, 2, got.Delivery.Attempts)
	require.NotNil(t, got.Delivery.NextRetryAt)
	assert.Equal(t, t0.Add(4*time.Minute), *got.Delivery.NextRetryAt)
}

// --------------------------------------------------------------------------
// Lifecycle messages
// --------------------------------------------------------------------------

func TestSendVerificationNeedsTransport(t *testing.T) {
	d := NewDispatcher(newMemStore(), newMemSubs(), nil, nil, "", quietLogger())
	_, err := d.SendVerification(context.Background(), newSub(true, false))
	assert.ErrorIs(t, err, apperr.ErrDelivery)
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestSendVerificationRecordsRow(t *testing.T) {
	sub := newSub(true, false)
	sub.VerificationToken = "tok-123"
	store := newMemStore()
	email := &fakeTransport{name: "smtp"}
	d := NewDispatcher(store, newMemSubs(sub), email, nil, "https://app.test/", quietLogger())

	res, err := d.SendVerification(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, email.texts[0], "https://app.test/verify?token=tok-123")

	rows := store.all()
	require.Len(t, rows, 1)
	assert.Equal(t, KindVerification, rows[0].Kind)
	assert.Nil(t, rows[0].Snapshot)
}

func TestSendTestValidates(t *testing.T) {
	d := NewDispatcher(newMemStore(), newMemSubs(), &fakeTransport{name: "smtp"}, nil, "", quietLogger())

	_, err := d.SendTest(context.Background(), "pigeon", "x")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = d.SendTest(context.Background(), ChannelSMS, "+15550000000")
	assert.ErrorIs(t, err, ErrNoTransport)

	res, err := d.SendTest(context.Background(), ChannelEmail, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestBroadcast(t *testing.T) {
	on, off := newSub(true, false), newSub(false, true)
	email := &fakeTransport{name: "smtp"}
	d := NewDispatcher(newMemStore(), newMemSubs(on, off), email, nil, "", quietLogger())

	sum, err := d.Broadcast(context.Background(), subscription.ListFilter{}, "Wildfire season", "Line one\nLine <two>")
	require.NoError(t, err)
	assert.Equal(t, BroadcastSummary{Targeted: 2, Sent: 1, Skipped: 1}, sum)

	_, err = d.Broadcast(context.Background(), subscription.ListFilter{}, "", "")
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
}
