// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/aqictl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names, matching internal/db/schema.sql
// --------------------------------------------------------------------------

const (
	SubscriptionsTable = "subscriptions"
	NotificationsTable = "notifications"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost       string
	APIPort       int
	Environment   string // development, staging, production
	Debug         bool
	PublicBaseURL string

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Auth
	JWTSecret      string
	InternalAPIKey string

	// AQI + geocoding providers
	OpenWeatherAPIKey string
	WAQIToken         string
	AQIRequestTimeout time.Duration

	// Email transport (SMTP takes precedence over Brevo)
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	BrevoAPIKey  string

	// SMS transport
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// In-flight guard (empty = in-process guard)
	RedisURL string

	// Alerting
	NotificationCooldown time.Duration
	CheckInterval        time.Duration
	AlertBatchSize       int
	AlertBatchDelay      time.Duration

	// Housekeeping
	CleanupHour          int
	HealthCheckInterval  time.Duration
	RetryInterval        time.Duration
	FailureWarnThreshold int

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	cfg := &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:       envOr("API_HOST", "0.0.0.0"),
		APIPort:       envInt("API_PORT", envInt("PORT", 5000)),
		Environment:   envOr("ENVIRONMENT", envOr("NODE_ENV", "development")),
		Debug:         envBool("DEBUG", false),
		PublicBaseURL: strings.TrimRight(envOr("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW_MS", 900000)) * time.Millisecond,

		JWTSecret:      envOr("JWT_SECRET", ""),
		InternalAPIKey: envOr("INTERNAL_API_KEY", ""),

		OpenWeatherAPIKey: envOr("OPENWEATHER_API_KEY", ""),
		WAQIToken:         envOr("WAQI_API_TOKEN", ""),
		AQIRequestTimeout: time.Duration(envInt("AQI_REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,

		SMTPHost:     envOr("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUser:     envOr("SMTP_USER", ""),
		SMTPPassword: envOr("SMTP_PASSWORD", envOr("SMTP_PASS", "")),
		EmailFrom:    envOr("EMAIL_FROM", "Breathe Easy <alerts@breatheasy.app>"),
		BrevoAPIKey:  envOr("BREVO_API_KEY", ""),

		TwilioAccountSID: envOr("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  envOr("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: envOr("TWILIO_FROM_NUMBER", envOr("TWILIO_PHONE_NUMBER", "")),

		RedisURL: envOr("REDIS_URL", ""),

		NotificationCooldown: time.Duration(envInt("NOTIFICATION_COOLDOWN_HOURS", 2)) * time.Hour,
		CheckInterval:        time.Duration(envInt("AQI_CHECK_INTERVAL_MINUTES", 30)) * time.Minute,
		AlertBatchSize:       envInt("ALERT_BATCH_SIZE", 10),
		AlertBatchDelay:      time.Duration(envInt("ALERT_BATCH_DELAY_MS", 2000)) * time.Millisecond,

		CleanupHour:          envInt("CLEANUP_HOUR", 2),
		HealthCheckInterval:  time.Duration(envInt("HEALTH_CHECK_INTERVAL_MINUTES", 60)) * time.Minute,
		RetryInterval:        time.Duration(envInt("RETRY_INTERVAL_MINUTES", 5)) * time.Minute,
		FailureWarnThreshold: envInt("FAILURE_WARN_THRESHOLD", 50),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}

	if cfg.CleanupHour < 0 || cfg.CleanupHour > 23 {
		return nil, fmt.Errorf("CLEANUP_HOUR must be between 0 and 23, got %d", cfg.CleanupHour)
	}
	if cfg.AlertBatchSize < 1 {
		return nil, fmt.Errorf("ALERT_BATCH_SIZE must be positive, got %d", cfg.AlertBatchSize)
	}
	if cfg.IsProduction() && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}

	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// EmailConfigured reports whether any mail transport has credentials.
func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != "" || c.BrevoAPIKey != ""
}

// SMSConfigured reports whether the Twilio transport has credentials.
func (c *Config) SMSConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
