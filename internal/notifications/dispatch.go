package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// ErrNoTransport is returned when a channel has no configured transport.
var ErrNoTransport = errors.New("transport not configured")

// Store is the notification persistence the Dispatcher needs.
type Store interface {
	Insert(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	FailedRetryable(ctx context.Context, limit int) ([]Notification, error)
}

// Subscriptions is the slice of the subscription store the Dispatcher uses.
type Subscriptions interface {
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, f subscription.ListFilter) ([]subscription.Subscription, int, error)
}

// Dispatcher renders and sends notifications and records each attempt.
type Dispatcher struct {
	store   Store
	subs    Subscriptions
	email   Transport
	sms     Transport
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. email and sms may be nil, which
// disables that channel.
func NewDispatcher(store Store, subs Subscriptions, email, sms Transport, baseURL string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		subs:    subs,
		email:   email,
		sms:     sms,
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source (tests).
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// EmailEnabled reports whether an email transport is configured.
func (d *Dispatcher) EmailEnabled() bool { return d.email != nil }

// SMSEnabled reports whether an SMS transport is configured.
func (d *Dispatcher) SMSEnabled() bool { return d.sms != nil }

// SendAlert sends reading to every enabled and configured channel of sub.
// Channels are attempted independently. When at least one succeeds the
// subscription is marked notified; that is the only place lastNotified
// moves. The returned error is non-nil only for that final update.
func (d *Dispatcher) SendAlert(ctx context.Context, sub *subscription.Subscription, reading aqi.Reading) (Result, error) {
	now := d.now()
	snap := SnapshotOf(reading)
	prefs := sub.Preferences.Notifications

	var res Result
	if prefs.Email && d.email != nil {
		msg := AlertEmail(sub, reading, d.baseURL)
		res.Channels = append(res.Channels, d.deliver(ctx, &sub.ID, KindAlert, ChannelEmail, sub.Email, msg, snap, now))
	}
	if prefs.SMS && sub.Mobile != "" && d.sms != nil {
		msg := AlertSMS(sub, reading)
		res.Channels = append(res.Channels, d.deliver(ctx, &sub.ID, KindAlert, ChannelSMS, sub.Mobile, msg, snap, now))
	}

	for _, ch := range res.Channels {
		if ch.Success {
			res.Success = true
			break
		}
	}
	if !res.Success {
		if len(res.Channels) == 0 {
			d.logger.Debug("No deliverable channel for alert", "subscription_id", sub.ID)
		}
		return res, nil
	}

	if err := d.subs.MarkNotified(ctx, sub.ID, now); err != nil {
		return res, fmt.Errorf("mark notified %s: %w", sub.ID, err)
	}
	sub.Status.LastNotified = &now
	sub.Status.NotificationCount++
	return res, nil
}

// deliver performs one channel send and records it.
func (d *Dispatcher) deliver(ctx context.Context, subID *uuid.UUID, kind Kind, ch Channel, to string, msg Message, snap *Snapshot, now time.Time) ChannelResult {
	n := newNotification(subID, kind, ch, to, msg, now)
	n.Snapshot = snap
	t := d.transport(ch)

	res := ChannelResult{Channel: ch, NotificationID: n.ID}
	id, err := t.Send(ctx, to, msg)
	if err != nil {
		cause := apperr.Delivery(string(ch), err)
		_ = n.RecordSendFailure(cause, now)
		res.Error = cause.Error()
		d.logger.Warn("Notification send failed",
			"kind", kind, "channel", ch, "notification_id", n.ID, "error", err)
	} else {
		_ = n.MarkSent(t.Name(), id, now)
		res.Success = true
		res.MessageID = id
		d.logger.Info("Notification sent",
			"kind", kind, "channel", ch, "notification_id", n.ID, "provider", t.Name())
	}

	if err := d.store.Insert(ctx, n); err != nil {
		d.logger.Error("Failed to record notification",
			"notification_id", n.ID, "channel", ch, "error", err)
	}
	return res
}

func (d *Dispatcher) transport(ch Channel) Transport {
	switch ch {
	case ChannelEmail:
		return d.email
	case ChannelSMS:
		return d.sms
	}
	return nil
}

// --------------------------------------------------------------------------
// Retries
// --------------------------------------------------------------------------

// RetrySummary counts the outcome of a retry pass.
type RetrySummary struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
}

// RetryDue re-sends pending notifications whose backoff has elapsed.
func (d *Dispatcher) RetryDue(ctx context.Context) (RetrySummary, error) {
	due, err := d.store.DueForRetry(ctx, d.now(), retryBatchSize)
	if err != nil {
		return RetrySummary{}, err
	}
	return d.retryAll(ctx, due), nil
}

// RetryFailed re-sends failed notifications that still have attempts left.
// A failure here goes through MarkFailed, so the notification re-enters the
// backoff schedule or becomes terminal.
func (d *Dispatcher) RetryFailed(ctx context.Context) (RetrySummary, error) {
	failed, err := d.store.FailedRetryable(ctx, retryBatchSize)
	if err != nil {
		return RetrySummary{}, err
	}
	return d.retryAll(ctx, failed), nil
}

func (d *Dispatcher) retryAll(ctx context.Context, ns []Notification) RetrySummary {
	var sum RetrySummary
	for i := range ns {
		if ctx.Err() != nil {
			break
		}
		n := &ns[i]
		sum.Attempted++
		if err := d.retry(ctx, n); err != nil {
			d.logger.Error("Retry bookkeeping failed", "notification_id", n.ID, "error", err)
		}
		switch {
		case n.Delivery.Status == StatusSent:
			sum.Sent++
		case n.Terminal():
			sum.Exhausted++
		default:
			sum.Failed++
		}
	}
	if sum.Attempted > 0 {
		d.logger.Info("Notification retry pass",
			"attempted", sum.Attempted, "sent", sum.Sent, "failed", sum.Failed, "exhausted", sum.Exhausted)
	}
	return sum
}

// retry re-sends one notification. Alerts are re-rendered from the
// embedded snapshot; other kinds resend the stored body.
func (d *Dispatcher) retry(ctx context.Context, n *Notification) error {
	now := d.now()
	msg, err := d.rerender(ctx, n)
	if err == nil {
		t := d.transport(n.Channel)
		if t == nil {
			err = fmt.Errorf("%s: %w", n.Channel, ErrNoTransport)
		} else {
			var id string
			if id, err = t.Send(ctx, n.Recipient, msg); err == nil {
				if err := n.MarkSent(t.Name(), id, now); err != nil {
					return err
				}
				n.Body = msg.Body(n.Channel)
				return d.store.Update(ctx, n)
			}
			err = apperr.Delivery(string(n.Channel), err)
		}
	}

	d.logger.Warn("Notification retry failed",
		"notification_id", n.ID, "channel", n.Channel, "attempt", n.Delivery.Attempts+1, "error", err)
	if terr := n.MarkFailed(err, now); terr != nil {
		return terr
	}
	return d.store.Update(ctx, n)
}

func (d *Dispatcher) rerender(ctx context.Context, n *Notification) (Message, error) {
	stored := Message{Subject: n.Subject, Text: n.Body}
	if n.Channel == ChannelEmail {
		stored.HTML = n.Body
	}
	if n.Kind != KindAlert || n.Snapshot == nil || n.SubscriptionID == nil {
		return stored, nil
	}

	sub, err := d.subs.Get(ctx, *n.SubscriptionID)
	if err != nil {
		return Message{}, fmt.Errorf("load subscription: %w", err)
	}
	if !sub.Status.IsActive {
		return Message{}, fmt.Errorf("subscription %s is inactive", sub.ID)
	}
	reading := n.Snapshot.Reading()
	if n.Channel == ChannelSMS {
		return AlertSMS(sub, reading), nil
	}
	return AlertEmail(sub, reading, d.baseURL), nil
}

// --------------------------------------------------------------------------
// Delivery callbacks
// --------------------------------------------------------------------------

// CallbackEvent is a provider-reported delivery outcome.
type CallbackEvent string

const (
	EventDelivered CallbackEvent = "delivered"
	EventBounced   CallbackEvent = "bounced"
	EventFailed    CallbackEvent = "failed"
)

// ApplyCallback applies a provider delivery event to a notification.
func (d *Dispatcher) ApplyCallback(ctx context.Context, id uuid.UUID, event CallbackEvent, reason string) (*Notification, error) {
	n, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := d.now()
	var cause error
	if reason != "" {
		cause = errors.New(reason)
	}

	switch event {
	case EventDelivered:
		err = n.MarkDelivered(now)
	case EventBounced:
		if cause == nil {
			cause = errors.New("bounced")
		}
		err = n.MarkBounced(cause, now)
	case EventFailed:
		if cause == nil {
			cause = errors.New("provider reported failure")
		}
		err = n.MarkFailed(cause, now)
	default:
		return nil, apperr.Invalid("status", "must be one of: delivered bounced failed")
	}
	if err != nil {
		return nil, apperr.Invalid("status", err.Error())
	}
	if err := d.store.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Lifecycle and operator messages
// --------------------------------------------------------------------------

// SendVerification emails the confirmation link.
func (d *Dispatcher) SendVerification(ctx context.Context, sub *subscription.Subscription) (ChannelResult, error) {
	return d.sendEmail(ctx, sub, KindVerification, Verification(sub, d.baseURL))
}

// SendWelcome emails the welcome message after verification.
func (d *Dispatcher) SendWelcome(ctx context.Context, sub *subscription.Subscription) (ChannelResult, error) {
	return d.sendEmail(ctx, sub, KindWelcome, Welcome(sub, d.baseURL))
}

func (d *Dispatcher) sendEmail(ctx context.Context, sub *subscription.Subscription, kind Kind, msg Message) (ChannelResult, error) {
	if d.email == nil {
		return ChannelResult{Channel: ChannelEmail}, apperr.Delivery(string(ChannelEmail), ErrNoTransport)
	}
	res := d.deliver(ctx, &sub.ID, kind, ChannelEmail, sub.Email, msg, nil, d.now())
	if !res.Success {
		return res, fmt.Errorf("%w: %s", apperr.ErrDelivery, res.Error)
	}
	return res, nil
}

// SendTest sends a transport check to an arbitrary recipient.
func (d *Dispatcher) SendTest(ctx context.Context, ch Channel, to string) (ChannelResult, error) {
	if ch != ChannelEmail && ch != ChannelSMS {
		return ChannelResult{}, apperr.Invalid("channel", "must be one of: email sms")
	}
	if to == "" {
		return ChannelResult{}, apperr.Invalid("to", "is required")
	}
	if d.transport(ch) == nil {
		return ChannelResult{Channel: ch}, apperr.Delivery(string(ch), ErrNoTransport)
	}
	res := d.deliver(ctx, nil, KindTest, ch, to, Test(ch), nil, d.now())
	if !res.Success {
		return res, fmt.Errorf("%w: %s", apperr.ErrDelivery, res.Error)
	}
	return res, nil
}

// BroadcastSummary counts a broadcast's outcome.
type BroadcastSummary struct {
	Targeted int `json:"targeted"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Broadcast emails an announcement to every subscription matching f that
// has email notifications enabled.
func (d *Dispatcher) Broadcast(ctx context.Context, f subscription.ListFilter, subject, message string) (BroadcastSummary, error) {
	if subject == "" || message == "" {
		fields := map[string]string{}
		if subject == "" {
			fields["subject"] = "is required"
		}
		if message == "" {
			fields["message"] = "is required"
		}
		return BroadcastSummary{}, &apperr.ValidationError{Fields: fields}
	}
	if d.email == nil {
		return BroadcastSummary{}, apperr.Delivery(string(ChannelEmail), ErrNoTransport)
	}

	var sum BroadcastSummary
	f.Limit, f.Offset = broadcastPage, 0
	for {
		page, _, err := d.subs.List(ctx, f)
		if err != nil {
			return sum, err
		}
		for i := range page {
			sub := &page[i]
			sum.Targeted++
			if !sub.Preferences.Notifications.Email {
				sum.Skipped++
				continue
			}
			res := d.deliver(ctx, &sub.ID, KindBroadcast, ChannelEmail, sub.Email,
				Broadcast(sub, subject, message, d.baseURL), nil, d.now())
			if res.Success {
				sum.Sent++
			} else {
				sum.Failed++
			}
		}
		if len(page) < broadcastPage || ctx.Err() != nil {
			break
		}
		f.Offset += broadcastPage
	}

	d.logger.Info("Broadcast complete",
		"targeted", sum.Targeted, "sent", sum.Sent, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}
