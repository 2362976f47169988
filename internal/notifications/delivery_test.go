package notifications

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func pending() *Notification {
	return newNotification(nil, KindAlert, ChannelEmail, "a@b.co", Message{Subject: "s", HTML: "<p>x</p>"}, t0)
}

func TestMarkSentFirstAttempt(t *testing.T) {
	n := pending()
	require.NoError(t, n.MarkSent("smtp", "<id@x>", t0))

	assert.Equal(t, StatusSent, n.Delivery.Status)
	assert.Equal(t, 1, n.Delivery.Attempts)
	assert.Equal(t, t0, *n.Delivery.SentAt)
	assert.Equal(t, "<id@x>", n.ProviderMessageID)
}

func TestRecordSendFailure(t *testing.T) {
	n := pending()
	require.NoError(t, n.RecordSendFailure(errors.New("smtp: 550"), t0))

	assert.Equal(t, StatusFailed, n.Delivery.Status)
	assert.Equal(t, 1, n.Delivery.Attempts)
	assert.Equal(t, "smtp: 550", n.Delivery.Error)
	assert.Nil(t, n.Delivery.NextRetryAt, "no retry scheduled at send time")
	assert.False(t, n.Terminal())
}

func TestMarkFailedBackoff(t *testing.T) {
	n := pending()

	require.NoError(t, n.MarkFailed(errors.New("timeout"), t0))
	assert.Equal(t, StatusPending, n.Delivery.Status)
	assert.Equal(t, 1, n.Delivery.Attempts)
	require.NotNil(t, n.Delivery.NextRetryAt)
	assert.Equal(t, t0.Add(2*time.Minute), *n.Delivery.NextRetryAt)
	first := n.Delivery.NextRetryAt.Sub(t0)

	require.NoError(t, n.MarkFailed(errors.New("timeout"), t0))
	assert.Equal(t, StatusPending, n.Delivery.Status)
	assert.Equal(t, 2, n.Delivery.Attempts)
	assert.Equal(t, t0.Add(4*time.Minute), *n.Delivery.NextRetryAt)
	assert.Greater(t, n.Delivery.NextRetryAt.Sub(t0), first)

	require.NoError(t, n.MarkFailed(errors.New("timeout"), t0))
	assert.Equal(t, StatusFailed, n.Delivery.Status)
	assert.Equal(t, MaxAttempts, n.Delivery.Attempts)
	assert.Nil(t, n.Delivery.NextRetryAt)
	assert.True(t, n.Terminal())
}

func TestMarkFailedAtLastAttemptIsTerminal(t *testing.T) {
	n := pending()
	n.Delivery.Attempts = MaxAttempts - 1

	require.NoError(t, n.MarkFailed(errors.New("boom"), t0))
	assert.Equal(t, StatusFailed, n.Delivery.Status)
	assert.Nil(t, n.Delivery.NextRetryAt)
	assert.LessOrEqual(t, n.Delivery.Attempts, n.Delivery.MaxAttempts)

	err := n.MarkFailed(errors.New("again"), t0)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, MaxAttempts, n.Delivery.Attempts)
}

func TestFailedThenRetried(t *testing.T) {
	n := pending()
	require.NoError(t, n.RecordSendFailure(errors.New("down"), t0))

	// failed → pending through MarkFailed
	require.NoError(t, n.MarkFailed(errors.New("still down"), t0))
	assert.Equal(t, StatusPending, n.Delivery.Status)
	assert.Equal(t, 2, n.Delivery.Attempts)
	assert.Equal(t, t0.Add(4*time.Minute), *n.Delivery.NextRetryAt)

	assert.False(t, n.RetryDue(t0.Add(3*time.Minute)))
	assert.True(t, n.RetryDue(t0.Add(4*time.Minute)))

	require.NoError(t, n.MarkSent("smtp", "id", t0.Add(4*time.Minute)))
	assert.Equal(t, StatusSent, n.Delivery.Status)
	assert.Equal(t, 3, n.Delivery.Attempts)
	assert.Nil(t, n.Delivery.NextRetryAt)
	assert.Empty(t, n.Delivery.Error)
}

func TestDeliveredAndBounced(t *testing.T) {
	n := pending()
	assert.ErrorIs(t, n.MarkDelivered(t0), ErrInvalidTransition)

	require.NoError(t, n.MarkSent("twilio", "SM1", t0))
	require.NoError(t, n.MarkDelivered(t0.Add(time.Second)))
	assert.Equal(t, StatusDelivered, n.Delivery.Status)
	assert.True(t, n.Terminal())

	require.NoError(t, n.MarkBounced(errors.New("mailbox full"), t0.Add(time.Minute)))
	assert.Equal(t, StatusBounced, n.Delivery.Status)
	assert.ErrorIs(t, n.MarkFailed(errors.New("x"), t0), ErrInvalidTransition)
	assert.ErrorIs(t, n.MarkSent("x", "y", t0), ErrInvalidTransition)
}

func TestRetryDueNeedsSchedule(t *testing.T) {
	n := pending()
	assert.False(t, n.RetryDue(t0), "fresh pending has no nextRetryAt")
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Minute, Backoff(1))
	assert.Equal(t, 4*time.Minute, Backoff(2))
	assert.Equal(t, 8*time.Minute, Backoff(3))
}

func TestDeliveryStatusValid(t *testing.T) {
	for _, s := range []DeliveryStatus{StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusBounced} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, DeliveryStatus("queued").Valid())
}
