package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/albapepper/breatheasy/internal/alerts"
	"github.com/albapepper/breatheasy/internal/config"
)

func TestEvaluatorOptionsFromConfig(t *testing.T) {
	opts := EvaluatorOptions(&config.Config{
		NotificationCooldown: 3 * time.Hour,
		AlertBatchSize:       25,
		AlertBatchDelay:      500 * time.Millisecond,
	})
	assert.Equal(t, alerts.Options{Cooldown: 3 * time.Hour, BatchSize: 25, BatchDelay: 500 * time.Millisecond}, opts)
}

func TestEvaluatorOptionsKeepDefaults(t *testing.T) {
	opts := EvaluatorOptions(&config.Config{AlertBatchDelay: -1})
	assert.Equal(t, alerts.DefaultOptions(), opts)
}

func TestIntervalsFromConfig(t *testing.T) {
	iv := Intervals(&config.Config{
		CheckInterval:       30 * time.Minute,
		HealthCheckInterval: time.Hour,
		RetryInterval:       5 * time.Minute,
		CleanupHour:         2,
	})
	assert.Equal(t, 30*time.Minute, iv.Check)
	assert.Equal(t, time.Hour, iv.Health)
	assert.Equal(t, 5*time.Minute, iv.Retry)
	assert.Equal(t, 2, iv.CleanupHour)
	assert.Equal(t, time.UTC, iv.Location)
}

func TestTransportsDisabledWithoutCredentials(t *testing.T) {
	email, sms := transports(&config.Config{}, nil)
	assert.Nil(t, email)
	assert.Nil(t, sms)

	email, sms = transports(&config.Config{
		BrevoAPIKey:      "key",
		EmailFrom:        "alerts@example.com",
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "tok",
		TwilioFromNumber: "+15550000000",
	}, nil)
	assert.NotNil(t, email)
	assert.NotNil(t, sms)
}
