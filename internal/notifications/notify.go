// Package notifications renders and delivers AQI alerts over email and SMS
// and tracks each send as a Notification row with an explicit delivery state
// machine.
//
// Pipeline: evaluator hands a reading to Dispatcher.SendAlert → one record
// per attempted channel → retry job re-sends due pending rows from the
// embedded AQI snapshot.
package notifications

import (
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/aqi"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// MaxAttempts bounds sends per notification, the first one included.
	MaxAttempts = 3

	retryBatchSize = 100
	broadcastPage  = 500
)

// Channel is a delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Kind is what a notification is about.
type Kind string

const (
	KindAlert        Kind = "aqi_alert"
	KindWelcome      Kind = "welcome"
	KindVerification Kind = "verification"
	KindBroadcast    Kind = "broadcast"
	KindTest         Kind = "test"
)

// DeliveryStatus is the state of one notification's delivery.
//
//	pending → sent → delivered
//	pending → failed → pending (while attempts < MaxAttempts) → failed
//	sent → bounced
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusBounced   DeliveryStatus = "bounced"
)

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed, StatusBounced:
		return true
	}
	return false
}

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Snapshot is the reading an alert was rendered from. Retries re-render
// from it rather than fetching a fresh value.
type Snapshot struct {
	AQI        int            `json:"aqi"`
	Category   string         `json:"category"`
	Location   string         `json:"location"`
	ObservedAt time.Time      `json:"observedAt"`
	Source     string         `json:"source"`
	Pollutants aqi.Pollutants `json:"pollutants"`
}

// SnapshotOf captures a reading.
func SnapshotOf(r aqi.Reading) *Snapshot {
	return &Snapshot{
		AQI:        r.AQI,
		Category:   r.Category,
		Location:   r.Location,
		ObservedAt: r.Timestamp,
		Source:     r.Source,
		Pollutants: r.Pollutants,
	}
}

// Reading rebuilds the reading a snapshot was taken from.
func (s *Snapshot) Reading() aqi.Reading {
	c := aqi.CategoryFor(s.AQI)
	return aqi.Reading{
		AQI:        s.AQI,
		Category:   c.Label,
		Color:      c.Color,
		Pollutants: s.Pollutants,
		Location:   s.Location,
		Source:     s.Source,
		Timestamp:  s.ObservedAt,
	}
}

// Delivery is the per-notification delivery bookkeeping.
type Delivery struct {
	Status      DeliveryStatus `json:"status"`
	SentAt      *time.Time     `json:"sentAt,omitempty"`
	DeliveredAt *time.Time     `json:"deliveredAt,omitempty"`
	FailedAt    *time.Time     `json:"failedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`
	NextRetryAt *time.Time     `json:"nextRetryAt,omitempty"`
}

// Notification is one send on one channel.
type Notification struct {
	ID                uuid.UUID  `json:"id"`
	SubscriptionID    *uuid.UUID `json:"subscriptionId,omitempty"`
	Kind              Kind       `json:"kind"`
	Channel           Channel    `json:"channel"`
	Recipient         string     `json:"recipient"`
	Subject           string     `json:"subject,omitempty"`
	Body              string     `json:"body"`
	Snapshot          *Snapshot  `json:"aqiData,omitempty"`
	Delivery          Delivery   `json:"delivery"`
	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID string     `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// newNotification builds an unsent record. Attempts start at zero; the
// first send transition counts as attempt one.
func newNotification(subID *uuid.UUID, kind Kind, ch Channel, recipient string, msg Message, now time.Time) *Notification {
	return &Notification{
		ID:             uuid.New(),
		SubscriptionID: subID,
		Kind:           kind,
		Channel:        ch,
		Recipient:      recipient,
		Subject:        msg.Subject,
		Body:           msg.Body(ch),
		Delivery: Delivery{
			Status:      StatusPending,
			MaxAttempts: MaxAttempts,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChannelResult is the outcome of one channel attempt within a dispatch.
type ChannelResult struct {
	Channel        Channel   `json:"channel"`
	Success        bool      `json:"success"`
	NotificationID uuid.UUID `json:"notificationId"`
	MessageID      string    `json:"messageId,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Result summarizes a dispatch across channels.
type Result struct {
	Success  bool            `json:"success"`
	Channels []ChannelResult `json:"channels"`
}

// Stats aggregates notification counts for the admin dashboard.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"byStatus"`
	ByChannel   map[string]int `json:"byChannel"`
	ByKind      map[string]int `json:"byKind"`
	Last24h     int            `json:"last24h"`
	SuccessRate float64        `json:"successRate"`
}
