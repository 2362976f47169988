package subscription

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/apperr"
)

// LocationInput accepts either a bare string or an object on the wire.
type LocationInput struct {
	Name      string   `json:"name" validate:"required,max=200"`
	Latitude  *float64 `json:"latitude" validate:"omitempty,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"omitempty,min=-180,max=180"`
	Timezone  string   `json:"timezone" validate:"omitempty,timezone"`
	Country   string   `json:"country" validate:"omitempty,max=100"`
	State     string   `json:"state" validate:"omitempty,max=100"`
	City      string   `json:"city" validate:"omitempty,max=100"`
}

// UnmarshalJSON lets clients send "location": "Denver, CO".
func (l *LocationInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &l.Name)
	}
	type plain LocationInput
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*l = LocationInput(p)
	return nil
}

// Input is the subscribe/update request body.
type Input struct {
	Email            string         `json:"email" validate:"required,email,max=254"`
	Mobile           string         `json:"mobile" validate:"omitempty,e164"`
	Location         *LocationInput `json:"location" validate:"required"`
	AQIThreshold     *int           `json:"aqiThreshold" validate:"omitempty,min=0,max=500"`
	Notifications    *Channels      `json:"notifications"`
	NotificationTime *WindowInput   `json:"notificationTime"`
	Language         string         `json:"language" validate:"omitempty,min=2,max=5"`
	Source           string         `json:"source" validate:"omitempty,oneof=web mobile api admin"`
}

// WindowInput is the notification window on the wire.
type WindowInput struct {
	Start string `json:"start" validate:"required,clock"`
	End   string `json:"end" validate:"required,clock"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, ok := parseClock(fl.Field().String())
		return ok
	})
	return v
}

// Validate checks an Input and converts validator output into an
// apperr.ValidationError keyed by JSON field path.
func (in *Input) Validate() error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Mobile = strings.TrimSpace(in.Mobile)

	err := validate.Struct(in)
	if err == nil {
		if in.Notifications != nil && in.Notifications.SMS && in.Mobile == "" {
			return apperr.Invalid("mobile", "is required when SMS notifications are enabled")
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("body", err.Error())
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe.Namespace())] = describe(fe)
	}
	return &apperr.ValidationError{Fields: fields}
}

// Apply copies the input onto a subscription, filling defaults for a new
// record. Existing lifecycle status is left untouched.
func (in *Input) Apply(s *Subscription) {
	s.Email = in.Email
	s.Mobile = in.Mobile
	if in.Location != nil {
		s.Location = Location{
			Name:      strings.TrimSpace(in.Location.Name),
			Latitude:  in.Location.Latitude,
			Longitude: in.Location.Longitude,
			Timezone:  in.Location.Timezone,
			Country:   in.Location.Country,
			State:     in.Location.State,
			City:      in.Location.City,
		}
	}
	if s.Location.Timezone == "" {
		s.Location.Timezone = DefaultTimezone
	}

	if in.AQIThreshold != nil {
		s.Preferences.AQIThreshold = *in.AQIThreshold
	} else if s.ID == uuid.Nil {
		s.Preferences.AQIThreshold = DefaultThreshold
	}
	if in.Notifications != nil {
		s.Preferences.Notifications = *in.Notifications
	} else if s.ID == uuid.Nil {
		s.Preferences.Notifications = Channels{Email: true}
	}
	if in.NotificationTime != nil {
		s.Preferences.NotificationTime = Window{Start: in.NotificationTime.Start, End: in.NotificationTime.End}
	} else if s.Preferences.NotificationTime.Start == "" {
		s.Preferences.NotificationTime = Window{Start: DefaultWindowStart, End: DefaultWindowEnd}
	}
	if in.Language != "" {
		s.Preferences.Language = in.Language
	} else if s.Preferences.Language == "" {
		s.Preferences.Language = DefaultLanguage
	}
	if in.Source != "" {
		s.Source = in.Source
	} else if s.Source == "" {
		s.Source = "web"
	}
}

// New builds a fresh, unverified subscription from validated input.
func New(in *Input, now time.Time) *Subscription {
	s := &Subscription{}
	in.Apply(s)
	s.ID = uuid.New()
	s.VerificationToken = uuid.NewString()
	s.Status.IsActive = true
	s.CreatedAt = now
	s.UpdatedAt = now
	return s
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an E.164 phone number, e.g. +15551234567"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "clock":
		return "must be HH:MM"
	case "timezone":
		return "must be an IANA time zone"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
