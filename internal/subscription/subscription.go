// Package subscription holds the alert subscription model, its eligibility
// rules and the Postgres-backed store.
//
// A subscription is alert-eligible only while active and verified. The
// cooldown (ShouldNotify) and the preferred time-of-day window are checked by
// the alert evaluator on every scheduled run.
package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	DefaultThreshold   = 100
	DefaultWindowStart = "08:00"
	DefaultWindowEnd   = "22:00"
	DefaultLanguage    = "en"
	DefaultTimezone    = "UTC"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Location is the monitored place. Coordinates are optional; the evaluator
// geocodes Name when they are missing.
type Location struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Timezone  string   `json:"timezone"`
	Country   string   `json:"country,omitempty"`
	State     string   `json:"state,omitempty"`
	City      string   `json:"city,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// FullName joins city, state and country, falling back to Name.
func (l Location) FullName() string {
	var parts []string
	for _, p := range []string{l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return l.Name
	}
	return strings.Join(parts, ", ")
}

// Channels are the per-channel delivery toggles.
type Channels struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// Window is the allowed time of day for alerts, as "HH:MM" in the
// subscription's time zone. End before Start wraps past midnight.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Preferences are the user-controlled alert settings.
type Preferences struct {
	AQIThreshold     int      `json:"aqiThreshold"`
	Notifications    Channels `json:"notifications"`
	NotificationTime Window   `json:"notificationTime"`
	Language         string   `json:"language"`
}

// Status is the system-maintained lifecycle state.
type Status struct {
	IsActive          bool       `json:"isActive"`
	IsVerified        bool       `json:"isVerified"`
	LastNotified      *time.Time `json:"lastNotified"`
	NotificationCount int        `json:"notificationCount"`
	LastAQICheck      *time.Time `json:"lastAQICheck"`
	VerifiedAt        *time.Time `json:"verifiedAt,omitempty"`
	UnsubscribedAt    *time.Time `json:"unsubscribedAt,omitempty"`
}

// Subscription is one person's request for alerts at one place.
type Subscription struct {
	ID                uuid.UUID   `json:"id"`
	Email             string      `json:"email"`
	Mobile            string      `json:"mobile,omitempty"`
	Location          Location    `json:"location"`
	Preferences       Preferences `json:"preferences"`
	Status            Status      `json:"status"`
	VerificationToken string      `json:"-"`
	Source            string      `json:"source"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// Eligible reports whether the subscription may receive alerts at all.
func (s *Subscription) Eligible() bool {
	return s.Status.IsActive && s.Status.IsVerified
}

// ShouldNotify applies the cooldown: true when never notified or when the
// last notification is strictly older than cooldown.
func (s *Subscription) ShouldNotify(now time.Time, cooldown time.Duration) bool {
	if s.Status.LastNotified == nil {
		return true
	}
	return now.Sub(*s.Status.LastNotified) > cooldown
}

// WithinNotificationWindow reports whether now, in the subscription's time
// zone, falls inside the preferred window (inclusive at both ends). An
// unparsable window allows all times.
func (s *Subscription) WithinNotificationWindow(now time.Time) bool {
	start, okStart := parseClock(s.Preferences.NotificationTime.Start)
	end, okEnd := parseClock(s.Preferences.NotificationTime.End)
	if !okStart || !okEnd {
		return true
	}

	loc, err := time.LoadLocation(s.Location.Timezone)
	if err != nil || s.Location.Timezone == "" {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

// Coordinates returns the stored point, if any.
func (s *Subscription) Coordinates() (lat, lon float64, ok bool) {
	if !s.Location.HasCoordinates() {
		return 0, 0, false
	}
	return *s.Location.Latitude, *s.Location.Longitude, true
}

// parseClock converts "HH:MM" to minutes after midnight.
func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
