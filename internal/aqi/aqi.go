// Package aqi fetches air-quality readings for coordinates and normalizes
// them onto the 0–500 US AQI scale.
//
// Readings come from an ordered chain of Sources: OpenWeatherMap first,
// WAQI second, and outside production a Synthetic source last. Nothing is
// cached; every call goes upstream or synthesizes.
package aqi

import (
	"fmt"
	"time"

	"github.com/albapepper/breatheasy/internal/apperr"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	MinAQI = 0
	MaxAQI = 500

	MaxForecastDays  = 7
	MaxHistoryWindow = 30 * 24 * time.Hour

	defaultTimeout = 10 * time.Second
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Pollutants holds concentrations (µg/m³, CO in µg/m³ as reported) or
// sub-indices, depending on the source. Zero means not reported.
type Pollutants struct {
	PM25 float64 `json:"pm25,omitempty"`
	PM10 float64 `json:"pm10,omitempty"`
	O3   float64 `json:"o3,omitempty"`
	NO2  float64 `json:"no2,omitempty"`
	SO2  float64 `json:"so2,omitempty"`
	CO   float64 `json:"co,omitempty"`
}

// Reading is a single normalized AQI observation or forecast point.
type Reading struct {
	AQI        int        `json:"aqi"`
	Category   string     `json:"category"`
	Color      string     `json:"color"`
	Pollutants Pollutants `json:"pollutants"`
	Location   string     `json:"location"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"`
	Confidence float64    `json:"confidence"`
}

// Category is one bucket of the fixed AQI table.
type Category struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

var categories = []Category{
	{Key: "good", Label: "Good", Min: 0, Max: 50, Color: "#00E400",
		Description: "Air quality is satisfactory and poses little or no risk."},
	{Key: "moderate", Label: "Moderate", Min: 51, Max: 100, Color: "#FFFF00",
		Description: "Air quality is acceptable; some pollutants may be a concern for a very small number of people."},
	{Key: "unhealthy_sensitive", Label: "Unhealthy for Sensitive Groups", Min: 101, Max: 150, Color: "#FF7E00",
		Description: "Members of sensitive groups may experience health effects."},
	{Key: "unhealthy", Label: "Unhealthy", Min: 151, Max: 200, Color: "#FF0000",
		Description: "Everyone may begin to experience health effects."},
	{Key: "very_unhealthy", Label: "Very Unhealthy", Min: 201, Max: 300, Color: "#8F3F97",
		Description: "Health alert: everyone may experience more serious health effects."},
	{Key: "hazardous", Label: "Hazardous", Min: 301, Max: 500, Color: "#7E0023",
		Description: "Health warnings of emergency conditions."},
}

// Categories returns a copy of the 6-bucket table, ordered by range.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// CategoryFor returns the bucket containing aqi. Out-of-range values are
// clamped first.
func CategoryFor(aqi int) Category {
	aqi = Clamp(aqi)
	for _, c := range categories {
		if aqi <= c.Max {
			return c
		}
	}
	return categories[len(categories)-1]
}

// Clamp bounds aqi to [MinAQI, MaxAQI].
func Clamp(aqi int) int {
	if aqi < MinAQI {
		return MinAQI
	}
	if aqi > MaxAQI {
		return MaxAQI
	}
	return aqi
}

// ValidateCoordinates rejects latitudes outside ±90 and longitudes outside ±180.
func ValidateCoordinates(lat, lon float64) error {
	fields := map[string]string{}
	if lat < -90 || lat > 90 {
		fields["lat"] = "must be between -90 and 90"
	}
	if lon < -180 || lon > 180 {
		fields["lon"] = "must be between -180 and 180"
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// normalize clamps the value and fills category, color and defaults.
func normalize(r Reading, lat, lon float64, label string, now time.Time) Reading {
	r.AQI = Clamp(r.AQI)
	c := CategoryFor(r.AQI)
	r.Category = c.Label
	r.Color = c.Color
	if r.Latitude == 0 && r.Longitude == 0 {
		r.Latitude, r.Longitude = lat, lon
	}
	switch {
	case label != "":
		r.Location = label
	case r.Location == "":
		r.Location = fmt.Sprintf("%.4f, %.4f", lat, lon)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	return r
}
