package subscription

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/apperr"
)

func TestShouldNotify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never notified", nil, true},
		{"inside cooldown", at(time.Hour), false},
		{"exactly at cooldown", at(2 * time.Hour), false},
		{"just past cooldown", at(2*time.Hour + time.Second), true},
		{"long ago", at(48 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Subscription{Status: Status{LastNotified: tt.last}}
			assert.Equal(t, tt.want, s.ShouldNotify(now, 2*time.Hour))
		})
	}
}

func TestEligible(t *testing.T) {
	assert.True(t, (&Subscription{Status: Status{IsActive: true, IsVerified: true}}).Eligible())
	assert.False(t, (&Subscription{Status: Status{IsActive: true}}).Eligible())
	assert.False(t, (&Subscription{Status: Status{IsVerified: true}}).Eligible())
}

func TestWithinNotificationWindow(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 6, 1, h, m, 0, 0, time.UTC) }

	sub := &Subscription{
		Location:    Location{Timezone: "UTC"},
		Preferences: Preferences{NotificationTime: Window{Start: "08:00", End: "22:00"}},
	}
	assert.True(t, sub.WithinNotificationWindow(day(8, 0)))
	assert.True(t, sub.WithinNotificationWindow(day(22, 0)))
	assert.False(t, sub.WithinNotificationWindow(day(7, 59)))
	assert.False(t, sub.WithinNotificationWindow(day(22, 1)))

	t.Run("wraps midnight", func(t *testing.T) {
		night := &Subscription{
			Location:    Location{Timezone: "UTC"},
			Preferences: Preferences{NotificationTime: Window{Start: "22:00", End: "06:00"}},
		}
		assert.True(t, night.WithinNotificationWindow(day(23, 30)))
		assert.True(t, night.WithinNotificationWindow(day(5, 0)))
		assert.False(t, night.WithinNotificationWindow(day(12, 0)))
	})

	t.Run("uses subscription time zone", func(t *testing.T) {
		ny := &Subscription{
			Location:    Location{Timezone: "America/New_York"},
			Preferences: Preferences{NotificationTime: Window{Start: "08:00", End: "22:00"}},
		}
		// 03:00 UTC is 23:00 in New York (EDT).
		assert.False(t, ny.WithinNotificationWindow(day(3, 0)))
		// 13:00 UTC is 09:00 in New York.
		assert.True(t, ny.WithinNotificationWindow(day(13, 0)))
	})

	t.Run("unparsable window allows all", func(t *testing.T) {
		bad := &Subscription{Preferences: Preferences{NotificationTime: Window{Start: "soon", End: "later"}}}
		assert.True(t, bad.WithinNotificationWindow(day(3, 0)))
	})
}

func TestLocationFullName(t *testing.T) {
	assert.Equal(t, "Denver, CO, US", Location{Name: "x", City: "Denver", State: "CO", Country: "US"}.FullName())
	assert.Equal(t, "Somewhere", Location{Name: "Somewhere"}.FullName())
}

func TestInputStringLocation(t *testing.T) {
	var in Input
	require.NoError(t, json.Unmarshal([]byte(`{"email":" Jane@Example.COM ","location":"Denver, CO"}`), &in))
	require.NotNil(t, in.Location)
	assert.Equal(t, "Denver, CO", in.Location.Name)

	require.NoError(t, in.Validate())
	assert.Equal(t, "jane@example.com", in.Email)
}

func TestInputObjectLocation(t *testing.T) {
	var in Input
	body := `{"email":"a@b.co","location":{"name":"Lyon","latitude":45.76,"longitude":4.83,"timezone":"Europe/Paris"}}`
	require.NoError(t, json.Unmarshal([]byte(body), &in))
	require.NoError(t, in.Validate())
	require.NotNil(t, in.Location.Latitude)
	assert.InDelta(t, 45.76, *in.Location.Latitude, 1e-9)
}

func TestInputValidationErrors(t *testing.T) {
	threshold := 900
	lat := 120.0
	in := Input{
		Email:            "not-an-email",
		Mobile:           "555-1234",
		Location:         &LocationInput{Name: "X", Latitude: &lat},
		AQIThreshold:     &threshold,
		NotificationTime: &WindowInput{Start: "25:00", End: "22:00"},
		Source:           "fax",
	}
	err := in.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "must be a valid email address", verr.Fields["email"])
	assert.Contains(t, verr.Fields, "mobile")
	assert.Equal(t, "must be at most 500", verr.Fields["aqiThreshold"])
	assert.Equal(t, "must be at most 90", verr.Fields["location.latitude"])
	assert.Equal(t, "must be HH:MM", verr.Fields["notificationTime.start"])
	assert.Contains(t, verr.Fields, "source")
}

func TestInputRequiresLocation(t *testing.T) {
	in := Input{Email: "a@b.co"}
	var verr *apperr.ValidationError
	require.True(t, errors.As(in.Validate(), &verr))
	assert.Equal(t, "is required", verr.Fields["location"])
}

func TestInputSMSNeedsMobile(t *testing.T) {
	in := Input{
		Email:         "a@b.co",
		Location:      &LocationInput{Name: "Denver"},
		Notifications: &Channels{Email: true, SMS: true},
	}
	var verr *apperr.ValidationError
	require.True(t, errors.As(in.Validate(), &verr))
	assert.Contains(t, verr.Fields, "mobile")
}

func TestNewAppliesDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &Input{Email: "a@b.co", Location: &LocationInput{Name: " Denver "}}
	s := New(in, now)

	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.NotEmpty(t, s.VerificationToken)
	assert.Equal(t, "Denver", s.Location.Name)
	assert.Equal(t, DefaultTimezone, s.Location.Timezone)
	assert.Equal(t, DefaultThreshold, s.Preferences.AQIThreshold)
	assert.Equal(t, Channels{Email: true}, s.Preferences.Notifications)
	assert.Equal(t, Window{Start: DefaultWindowStart, End: DefaultWindowEnd}, s.Preferences.NotificationTime)
	assert.Equal(t, DefaultLanguage, s.Preferences.Language)
	assert.Equal(t, "web", s.Source)
	assert.True(t, s.Status.IsActive)
	assert.False(t, s.Status.IsVerified)
	assert.Equal(t, now, s.CreatedAt)
}

func TestApplyKeepsExistingPreferences(t *testing.T) {
	existing := &Subscription{
		ID:          uuid.New(),
		Preferences: Preferences{AQIThreshold: 150, Notifications: Channels{SMS: true}, Language: "fr"},
		Source:      "mobile",
	}
	in := &Input{Email: "a@b.co", Location: &LocationInput{Name: "Paris"}}
	in.Apply(existing)

	assert.Equal(t, 150, existing.Preferences.AQIThreshold)
	assert.Equal(t, Channels{SMS: true}, existing.Preferences.Notifications)
	assert.Equal(t, "fr", existing.Preferences.Language)
	assert.Equal(t, "mobile", existing.Source)
	assert.Equal(t, "Paris", existing.Location.Name)
}
