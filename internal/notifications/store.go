package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/db"
)

// PGStore persists notifications in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps a pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert persists a new notification with its current delivery state.
func (s *PGStore) Insert(ctx context.Context, n *Notification) error {
	snap := snapshotArgs(n.Snapshot)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (
			id, subscription_id, kind, channel, recipient, subject, body,
			aqi_value, aqi_category, aqi_location, aqi_observed_at, aqi_source, aqi_pollutants,
			status, sent_at, delivered_at, failed_at, last_error, attempts, max_attempts, next_retry_at,
			provider, provider_message_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
		n.ID, n.SubscriptionID, string(n.Kind), string(n.Channel), n.Recipient, n.Subject, n.Body,
		snap.value, snap.category, snap.location, snap.observedAt, snap.source, snap.pollutants,
		string(n.Delivery.Status), n.Delivery.SentAt, n.Delivery.DeliveredAt, n.Delivery.FailedAt,
		n.Delivery.Error, n.Delivery.Attempts, n.Delivery.MaxAttempts, n.Delivery.NextRetryAt,
		n.Provider, n.ProviderMessageID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence("insert notification", err)
	}
	return nil
}

// Update writes the delivery sub-record back after a transition.
func (s *PGStore) Update(ctx context.Context, n *Notification) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET
			status = $2, sent_at = $3, delivered_at = $4, failed_at = $5, last_error = $6,
			attempts = $7, next_retry_at = $8, provider = $9, provider_message_id = $10,
			body = $11, updated_at = $12
		WHERE id = $1`,
		n.ID, string(n.Delivery.Status), n.Delivery.SentAt, n.Delivery.DeliveredAt, n.Delivery.FailedAt,
		n.Delivery.Error, n.Delivery.Attempts, n.Delivery.NextRetryAt, n.Provider, n.ProviderMessageID,
		n.Body, n.UpdatedAt,
	)
	if err != nil {
		return apperr.Persistence("update notification", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, apperr.ErrNotFound)
	}
	return nil
}

// Get loads one notification.
func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scan(s.pool.QueryRow(ctx, "notification_by_id", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Persistence("get notification", err)
	}
	return n, nil
}

// DueForRetry returns pending notifications whose nextRetryAt has passed
// and that still have attempts left.
func (s *PGStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, "notifications_due_retry", now, limit)
	if err != nil {
		return nil, apperr.Persistence("select due retries", err)
	}
	return collect(rows)
}

// FailedRetryable returns failed notifications that have attempts left.
func (s *PGStore) FailedRetryable(ctx context.Context, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+db.NotificationColumns+`
		FROM notifications
		WHERE status = 'failed' AND attempts < max_attempts
		ORDER BY failed_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Persistence("select retryable failures", err)
	}
	return collect(rows)
}

// History returns a subscription's most recent notifications.
func (s *PGStore) History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+db.NotificationColumns+`
		FROM notifications
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, subscriptionID, limit)
	if err != nil {
		return nil, apperr.Persistence("notification history", err)
	}
	return collect(rows)
}

// RecentFailures counts notifications that reached failed since the cutoff.
func (s *PGStore) RecentFailures(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "notifications_recent_failures", since).Scan(&n); err != nil {
		return 0, apperr.Persistence("count recent failures", err)
	}
	return n, nil
}

// DeleteFailedBefore removes failed notifications older than cutoff.
func (s *PGStore) DeleteFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notifications
		WHERE status = 'failed'
		  AND created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Persistence("delete failed notifications", err)
	}
	return tag.RowsAffected(), nil
}

// Stats aggregates counts by status, channel and kind.
func (s *PGStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	st := Stats{
		ByStatus:  map[string]int{},
		ByChannel: map[string]int{},
		ByKind:    map[string]int{},
	}
	rows, err := s.pool.Query(ctx, `
		SELECT status, channel, kind, COUNT(*), COUNT(*) FILTER (WHERE created_at >= $1)
		FROM notifications
		GROUP BY status, channel, kind`, since)
	if err != nil {
		return Stats{}, apperr.Persistence("notification stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, channel, kind string
			total, recent         int
		)
		if err := rows.Scan(&status, &channel, &kind, &total, &recent); err != nil {
			return Stats{}, apperr.Persistence("scan notification stats", err)
		}
		st.Total += total
		st.Last24h += recent
		st.ByStatus[status] += total
		st.ByChannel[channel] += total
		st.ByKind[kind] += total
	}
	if err := rows.Err(); err != nil {
		return Stats{}, apperr.Persistence("iterate notification stats", err)
	}
	st.SuccessRate = successRate(st.ByStatus)
	return st, nil
}

func successRate(byStatus map[string]int) float64 {
	ok := byStatus[string(StatusSent)] + byStatus[string(StatusDelivered)]
	done := ok + byStatus[string(StatusFailed)] + byStatus[string(StatusBounced)]
	if done == 0 {
		return 0
	}
	return float64(ok) / float64(done) * 100
}

// --------------------------------------------------------------------------
// Scanning
// --------------------------------------------------------------------------

type snapshotColumns struct {
	value      *int
	category   *string
	location   *string
	observedAt *time.Time
	source     *string
	pollutants *aqi.Pollutants
}

func snapshotArgs(s *Snapshot) snapshotColumns {
	if s == nil {
		return snapshotColumns{}
	}
	return snapshotColumns{
		value:      &s.AQI,
		category:   &s.Category,
		location:   &s.Location,
		observedAt: &s.ObservedAt,
		source:     &s.Source,
		pollutants: &s.Pollutants,
	}
}

func scan(row pgx.Row) (*Notification, error) {
	var (
		n       Notification
		kind    string
		channel string
		status  string
		snap    snapshotColumns
	)
	err := row.Scan(
		&n.ID, &n.SubscriptionID, &kind, &channel, &n.Recipient, &n.Subject, &n.Body,
		&snap.value, &snap.category, &snap.location, &snap.observedAt, &snap.source, &snap.pollutants,
		&status, &n.Delivery.SentAt, &n.Delivery.DeliveredAt, &n.Delivery.FailedAt, &n.Delivery.Error,
		&n.Delivery.Attempts, &n.Delivery.MaxAttempts, &n.Delivery.NextRetryAt,
		&n.Provider, &n.ProviderMessageID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Kind = Kind(kind)
	n.Channel = Channel(channel)
	n.Delivery.Status = DeliveryStatus(status)

	if snap.value != nil {
		n.Snapshot = &Snapshot{AQI: *snap.value}
		if snap.category != nil {
			n.Snapshot.Category = *snap.category
		}
		if snap.location != nil {
			n.Snapshot.Location = *snap.location
		}
		if snap.observedAt != nil {
			n.Snapshot.ObservedAt = *snap.observedAt
		}
		if snap.source != nil {
			n.Snapshot.Source = *snap.source
		}
		if snap.pollutants != nil {
			n.Snapshot.Pollutants = *snap.pollutants
		}
	}
	return &n, nil
}

func collect(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, apperr.Persistence("scan notification", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate notifications", err)
	}
	return out, nil
}
