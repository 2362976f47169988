// Package db provides a pgxpool-based connection pool with prepared statement
// registration, schema migration and health checking.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/albapepper/breatheasy/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Pool wraps pgxpool.Pool with application-specific helpers.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepared statements reference the tables, so the schema has to exist
	// before the first pooled connection comes up.
	if err := migrateOnce(ctx, poolCfg.ConnConfig); err != nil {
		return nil, err
	}

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (p *Pool) Migrate(ctx context.Context) error {
	if _, err := p.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func migrateOnce(ctx context.Context, connCfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL, for `aqictl migrate --print`.
func Schema() string { return schemaSQL }

// registerPreparedStatements registers the hot-path statements used by the
// scheduler jobs and the API.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// Subscriptions
		"subscription_by_id":         "SELECT " + SubscriptionColumns + " FROM subscriptions WHERE id = $1",
		"subscription_by_email":      "SELECT " + SubscriptionColumns + " FROM subscriptions WHERE email = $1",
		"subscriptions_alertable":    "SELECT " + SubscriptionColumns + " FROM subscriptions WHERE is_active AND is_verified ORDER BY created_at",
		"subscription_mark_notified": "UPDATE subscriptions SET last_notified = $2, notification_count = notification_count + 1, updated_at = NOW() WHERE id = $1",
		"subscription_touch_check":   "UPDATE subscriptions SET last_aqi_check = $2, updated_at = NOW() WHERE id = $1",

		// Notifications
		"notification_by_id":            "SELECT " + NotificationColumns + " FROM notifications WHERE id = $1",
		"notifications_due_retry":       "SELECT " + NotificationColumns + " FROM notifications WHERE status = 'pending' AND next_retry_at <= $1 AND attempts < max_attempts ORDER BY next_retry_at LIMIT $2",
		"notifications_recent_failures": "SELECT COUNT(*) FROM notifications WHERE status = 'failed' AND failed_at >= $1",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}

// SubscriptionColumns is the canonical column order scanned by the
// subscription store.
const SubscriptionColumns = `id, email, mobile,
	location_name, latitude, longitude, timezone, country, state, city,
	aqi_threshold, notify_email, notify_sms, notify_push, window_start, window_end, language,
	is_active, is_verified, verification_token, verified_at, unsubscribed_at,
	last_notified, notification_count, last_aqi_check, source, created_at, updated_at`

// NotificationColumns is the canonical column order scanned by the
// notification store.
const NotificationColumns = `id, subscription_id, kind, channel, recipient, subject, body,
	aqi_value, aqi_category, aqi_location, aqi_observed_at, aqi_source, aqi_pollutants,
	status, sent_at, delivered_at, failed_at, last_error, attempts, max_attempts, next_retry_at,
	provider, provider_message_id, created_at, updated_at`
