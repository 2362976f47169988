package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/db"
)

// Store persists subscriptions in Postgres. Per-row atomic UPDATEs carry
// the lastNotified/notificationCount mutation; no explicit locking.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListFilter narrows admin listings and broadcasts.
type ListFilter struct {
	Active       *bool
	Verified     *bool
	Location     string // case-insensitive substring of location name
	MinThreshold int
	Limit        int
	Offset       int
}

// Stats summarizes the subscription table for dashboards.
type Stats struct {
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	Verified         int     `json:"verified"`
	Inactive         int     `json:"inactive"`
	NotifiedLast24h  int     `json:"notifiedLast24h"`
	AverageThreshold float64 `json:"averageThreshold"`
}

// Subscribe creates the subscription or, when the email already exists,
// updates location and preferences and reactivates it. created reports
// which happened.
func (s *Store) Subscribe(ctx context.Context, sub *Subscription) (saved *Subscription, created bool, err error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (
			id, email, mobile,
			location_name, latitude, longitude, timezone, country, state, city,
			aqi_threshold, notify_email, notify_sms, notify_push, window_start, window_end, language,
			is_active, is_verified, verification_token, source, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,TRUE,$18,$19,$20,$21,$21)
		ON CONFLICT (email) DO UPDATE SET
			mobile = EXCLUDED.mobile,
			location_name = EXCLUDED.location_name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			timezone = EXCLUDED.timezone,
			country = EXCLUDED.country,
			state = EXCLUDED.state,
			city = EXCLUDED.city,
			aqi_threshold = EXCLUDED.aqi_threshold,
			notify_email = EXCLUDED.notify_email,
			notify_sms = EXCLUDED.notify_sms,
			notify_push = EXCLUDED.notify_push,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			language = EXCLUDED.language,
			is_active = TRUE,
			unsubscribed_at = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING `+db.SubscriptionColumns+`, (xmax = 0) AS inserted`,
		sub.ID, sub.Email, sub.Mobile,
		sub.Location.Name, sub.Location.Latitude, sub.Location.Longitude, sub.Location.Timezone,
		sub.Location.Country, sub.Location.State, sub.Location.City,
		sub.Preferences.AQIThreshold, sub.Preferences.Notifications.Email, sub.Preferences.Notifications.SMS,
		sub.Preferences.Notifications.Push, sub.Preferences.NotificationTime.Start, sub.Preferences.NotificationTime.End,
		sub.Preferences.Language, sub.Status.IsVerified, nullString(sub.VerificationToken), sub.Source, sub.CreatedAt,
	)
	saved, err = scan(row, &created)
	if err != nil {
		return nil, false, apperr.Persistence("subscribe", err)
	}
	return saved, created, nil
}

// Get loads a subscription by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.one(ctx, "subscription_by_id", id)
}

// GetByEmail loads a subscription by its (lowercased) email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Subscription, error) {
	return s.one(ctx, "subscription_by_email", strings.ToLower(strings.TrimSpace(email)))
}

// Update writes location and preferences of an existing subscription.
func (s *Store) Update(ctx context.Context, sub *Subscription) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			email = $2, mobile = $3,
			location_name = $4, latitude = $5, longitude = $6, timezone = $7, country = $8, state = $9, city = $10,
			aqi_threshold = $11, notify_email = $12, notify_sms = $13, notify_push = $14,
			window_start = $15, window_end = $16, language = $17,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+db.SubscriptionColumns,
		sub.ID, sub.Email, sub.Mobile,
		sub.Location.Name, sub.Location.Latitude, sub.Location.Longitude, sub.Location.Timezone,
		sub.Location.Country, sub.Location.State, sub.Location.City,
		sub.Preferences.AQIThreshold, sub.Preferences.Notifications.Email, sub.Preferences.Notifications.SMS,
		sub.Preferences.Notifications.Push, sub.Preferences.NotificationTime.Start, sub.Preferences.NotificationTime.End,
		sub.Preferences.Language,
	)
	return s.scanOne(row, "update subscription "+sub.ID.String())
}

// Unsubscribe deactivates a subscription by id.
func (s *Store) Unsubscribe(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET is_active = FALSE, unsubscribed_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+db.SubscriptionColumns, id)
	return s.scanOne(row, "unsubscribe "+id.String())
}

// UnsubscribeByEmail deactivates a subscription by email.
func (s *Store) UnsubscribeByEmail(ctx context.Context, email string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET is_active = FALSE, unsubscribed_at = NOW(), updated_at = NOW()
		WHERE email = $1
		RETURNING `+db.SubscriptionColumns, strings.ToLower(strings.TrimSpace(email)))
	return s.scanOne(row, "unsubscribe "+email)
}

// Verify marks the subscription owning token as verified and clears the token.
func (s *Store) Verify(ctx context.Context, token string) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET is_verified = TRUE, verified_at = NOW(), verification_token = NULL, updated_at = NOW()
		WHERE verification_token = $1
		RETURNING `+db.SubscriptionColumns, token)
	return s.scanOne(row, "verify token")
}

// SetActive toggles is_active (admin).
func (s *Store) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			is_active = $2,
			unsubscribed_at = CASE WHEN $2 THEN NULL ELSE COALESCE(unsubscribed_at, NOW()) END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+db.SubscriptionColumns, id, active)
	return s.scanOne(row, "set active "+id.String())
}

// SetVerified toggles is_verified (admin). Verifying clears any pending token.
func (s *Store) SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			is_verified = $2,
			verified_at = CASE WHEN $2 THEN COALESCE(verified_at, NOW()) ELSE NULL END,
			verification_token = CASE WHEN $2 THEN NULL ELSE verification_token END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+db.SubscriptionColumns, id, verified)
	return s.scanOne(row, "set verified "+id.String())
}

// Delete hard-deletes a subscription and, by cascade, its notifications.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return apperr.Persistence("delete subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListAlertable returns every active and verified subscription.
func (s *Store) ListAlertable(ctx context.Context) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, "subscriptions_alertable")
	if err != nil {
		return nil, apperr.Persistence("list alertable", err)
	}
	return collect(rows)
}

// MarkNotified records a successful alert: lastNotified=at, count+1.
func (s *Store) MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, "subscription_mark_notified", id, at)
	if err != nil {
		return apperr.Persistence("mark notified", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// TouchAQICheck records when the subscription's location was last checked.
func (s *Store) TouchAQICheck(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.pool.Exec(ctx, "subscription_touch_check", id, at); err != nil {
		return apperr.Persistence("touch aqi check", err)
	}
	return nil
}

// List returns a filtered page plus the total match count.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Subscription, int, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Active != nil {
		conds = append(conds, "is_active = "+arg(*f.Active))
	}
	if f.Verified != nil {
		conds = append(conds, "is_verified = "+arg(*f.Verified))
	}
	if f.Location != "" {
		conds = append(conds, "location_name ILIKE "+arg("%"+f.Location+"%"))
	}
	if f.MinThreshold > 0 {
		conds = append(conds, "aqi_threshold >= "+arg(f.MinThreshold))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Persistence("count subscriptions", err)
	}

	query := "SELECT " + db.SubscriptionColumns + " FROM subscriptions" + where + " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Persistence("list subscriptions", err)
	}
	subs, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// Stats aggregates dashboard counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_verified),
			COUNT(*) FILTER (WHERE NOT is_active),
			COUNT(*) FILTER (WHERE last_notified >= NOW() - INTERVAL '24 hours'),
			COALESCE(AVG(aqi_threshold) FILTER (WHERE is_active), 0)
		FROM subscriptions`).Scan(
		&st.Total, &st.Active, &st.Verified, &st.Inactive, &st.NotifiedLast24h, &st.AverageThreshold,
	)
	if err != nil {
		return Stats{}, apperr.Persistence("subscription stats", err)
	}
	return st, nil
}

// DeleteUnverifiedBefore removes never-verified subscriptions created before cutoff.
func (s *Store) DeleteUnverifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions
		WHERE NOT is_verified
		  AND created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Persistence("delete unverified", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteInactiveBefore removes inactive subscriptions unsubscribed before cutoff.
func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions
		WHERE NOT is_active
		  AND unsubscribed_at IS NOT NULL
		  AND unsubscribed_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Persistence("delete inactive", err)
	}
	return tag.RowsAffected(), nil
}

// --------------------------------------------------------------------------
// Scanning
// --------------------------------------------------------------------------

func (s *Store) one(ctx context.Context, stmt string, arg any) (*Subscription, error) {
	return s.scanOne(s.pool.QueryRow(ctx, stmt, arg), stmt)
}

func (s *Store) scanOne(row pgx.Row, op string) (*Subscription, error) {
	sub, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return sub, nil
}

func scan(row pgx.Row, extra ...any) (*Subscription, error) {
	var (
		sub   Subscription
		token *string
	)
	dest := []any{
		&sub.ID, &sub.Email, &sub.Mobile,
		&sub.Location.Name, &sub.Location.Latitude, &sub.Location.Longitude, &sub.Location.Timezone,
		&sub.Location.Country, &sub.Location.State, &sub.Location.City,
		&sub.Preferences.AQIThreshold, &sub.Preferences.Notifications.Email, &sub.Preferences.Notifications.SMS,
		&sub.Preferences.Notifications.Push, &sub.Preferences.NotificationTime.Start, &sub.Preferences.NotificationTime.End,
		&sub.Preferences.Language,
		&sub.Status.IsActive, &sub.Status.IsVerified, &token, &sub.Status.VerifiedAt, &sub.Status.UnsubscribedAt,
		&sub.Status.LastNotified, &sub.Status.NotificationCount, &sub.Status.LastAQICheck,
		&sub.Source, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if token != nil {
		sub.VerificationToken = *token
	}
	return &sub, nil
}

func collect(rows pgx.Rows) ([]Subscription, error) {
	defer rows.Close()
	var subs []Subscription
	for rows.Next() {
		sub, err := scan(rows)
		if err != nil {
			return nil, apperr.Persistence("scan subscription", err)
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Persistence("iterate subscriptions", err)
	}
	return subs, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
