package notifications

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a delivery event does not apply to
// the notification's current status.
var ErrInvalidTransition = errors.New("invalid delivery transition")

// Backoff is the delay before the retry following the given attempt count.
func Backoff(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Minute
}

// Terminal reports whether no further automatic work will happen.
func (n *Notification) Terminal() bool {
	switch n.Delivery.Status {
	case StatusDelivered, StatusBounced:
		return true
	case StatusFailed:
		return n.Delivery.Attempts >= n.maxAttempts()
	}
	return false
}

// MarkSent records a successful send attempt.
func (n *Notification) MarkSent(provider, messageID string, now time.Time) error {
	switch n.Delivery.Status {
	case StatusPending:
	case StatusFailed:
		if n.Terminal() {
			return n.invalid("sent")
		}
	default:
		return n.invalid("sent")
	}
	n.Delivery.Attempts = min(n.Delivery.Attempts+1, n.maxAttempts())
	n.Delivery.Status = StatusSent
	n.Delivery.SentAt = &now
	n.Delivery.NextRetryAt = nil
	n.Delivery.Error = ""
	n.Provider = provider
	n.ProviderMessageID = messageID
	n.UpdatedAt = now
	return nil
}

// RecordSendFailure records a failed first send. The notification is left
// failed with no retry scheduled; MarkFailed is what schedules retries.
func (n *Notification) RecordSendFailure(cause error, now time.Time) error {
	if n.Delivery.Status != StatusPending || n.Delivery.Attempts != 0 {
		return n.invalid("send failure")
	}
	n.Delivery.Attempts = 1
	n.Delivery.Status = StatusFailed
	n.Delivery.FailedAt = &now
	n.Delivery.NextRetryAt = nil
	n.Delivery.Error = errText(cause)
	n.UpdatedAt = now
	return nil
}

// MarkFailed counts a failed attempt. Below MaxAttempts the notification
// returns to pending with NextRetryAt = now + 2^attempts minutes; at the
// limit it becomes terminally failed and NextRetryAt is cleared.
func (n *Notification) MarkFailed(cause error, now time.Time) error {
	switch n.Delivery.Status {
	case StatusPending, StatusSent:
	case StatusFailed:
		if n.Terminal() {
			return n.invalid("failed")
		}
	default:
		return n.invalid("failed")
	}

	n.Delivery.Attempts++
	n.Delivery.Error = errText(cause)
	n.UpdatedAt = now

	if n.Delivery.Attempts < n.maxAttempts() {
		next := now.Add(Backoff(n.Delivery.Attempts))
		n.Delivery.Status = StatusPending
		n.Delivery.NextRetryAt = &next
		return nil
	}
	n.Delivery.Attempts = n.maxAttempts()
	n.Delivery.Status = StatusFailed
	n.Delivery.FailedAt = &now
	n.Delivery.NextRetryAt = nil
	return nil
}

// MarkDelivered records the provider's delivery confirmation.
func (n *Notification) MarkDelivered(now time.Time) error {
	if n.Delivery.Status != StatusSent {
		return n.invalid("delivered")
	}
	n.Delivery.Status = StatusDelivered
	n.Delivery.DeliveredAt = &now
	n.UpdatedAt = now
	return nil
}

// MarkBounced records a permanent rejection by the recipient's server.
func (n *Notification) MarkBounced(cause error, now time.Time) error {
	if n.Delivery.Status != StatusSent && n.Delivery.Status != StatusDelivered {
		return n.invalid("bounced")
	}
	n.Delivery.Status = StatusBounced
	n.Delivery.FailedAt = &now
	n.Delivery.Error = errText(cause)
	n.UpdatedAt = now
	return nil
}

// RetryDue reports whether the retry job should pick this notification up.
func (n *Notification) RetryDue(now time.Time) bool {
	return n.Delivery.Status == StatusPending &&
		n.Delivery.NextRetryAt != nil &&
		!n.Delivery.NextRetryAt.After(now) &&
		n.Delivery.Attempts < n.maxAttempts()
}

func (n *Notification) maxAttempts() int {
	if n.Delivery.MaxAttempts <= 0 {
		return MaxAttempts
	}
	return n.Delivery.MaxAttempts
}

func (n *Notification) invalid(event string) error {
	return fmt.Errorf("%w: %s from %s (attempts %d/%d)",
		ErrInvalidTransition, event, n.Delivery.Status, n.Delivery.Attempts, n.maxAttempts())
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return truncate(err.Error(), 500)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
