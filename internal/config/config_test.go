package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/breatheasy")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("NODE_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.NotificationCooldown)
	assert.Equal(t, 30*time.Minute, cfg.CheckInterval)
	assert.Equal(t, 10, cfg.AlertBatchSize)
	assert.Equal(t, 2*time.Second, cfg.AlertBatchDelay)
	assert.Equal(t, 15*time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.AQIRequestTimeout)
	assert.Equal(t, 2, cfg.CleanupHour)
	assert.Equal(t, 50, cfg.FailureWarnThreshold)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/breatheasy")
	t.Setenv("NOTIFICATION_COOLDOWN_HOURS", "6")
	t.Setenv("AQI_CHECK_INTERVAL_MINUTES", "15")
	t.Setenv("CORS_ALLOW_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("RATE_LIMIT_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.NotificationCooldown)
	assert.Equal(t, 15*time.Minute, cfg.CheckInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowOrigins)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"cleanup hour too large", "CLEANUP_HOUR", "24"},
		{"zero batch size", "ALERT_BATCH_SIZE", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/breatheasy")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/breatheasy")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestTransportsConfigured(t *testing.T) {
	cfg := &Config{}
	assert.False(t, cfg.EmailConfigured())
	assert.False(t, cfg.SMSConfigured())

	cfg.BrevoAPIKey = "key"
	cfg.TwilioAccountSID = "AC123"
	cfg.TwilioAuthToken = "tok"
	assert.True(t, cfg.EmailConfigured())
	assert.False(t, cfg.SMSConfigured())

	cfg.TwilioFromNumber = "+15550100"
	assert.True(t, cfg.SMSConfigured())
}
