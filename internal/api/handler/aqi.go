package handler

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/breatheasy/internal/api/respond"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/cache"
)

const (
	defaultForecastDays = 3
	defaultRadiusKm     = 50
	maxRadiusKm         = 100
)

// point resolves lat/lon from the query, geocoding the location parameter
// when coordinates are absent.
func (h *Handler) point(r *http.Request) (lat, lon float64, label string, err error) {
	q := r.URL.Query()
	label = strings.TrimSpace(q.Get("location"))
	rawLat, rawLon := q.Get("lat"), q.Get("lon")

	if rawLat == "" && rawLon == "" && label != "" && h.Geocoder != nil {
		place, err := h.Geocoder.Resolve(r.Context(), label)
		if err != nil {
			return 0, 0, "", err
		}
		return place.Latitude, place.Longitude, label, nil
	}
	if rawLat == "" || rawLon == "" {
		return 0, 0, "", apperr.Invalid("lat", "latitude and longitude are required")
	}

	fields := map[string]string{}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	if errLat != nil || math.IsNaN(lat) {
		fields["lat"] = "must be a number"
	}
	lon, errLon := strconv.ParseFloat(rawLon, 64)
	if errLon != nil || math.IsNaN(lon) {
		fields["lon"] = "must be a number"
	}
	if len(fields) > 0 {
		return 0, 0, "", &apperr.ValidationError{Fields: fields}
	}
	if err := aqi.ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, "", err
	}
	return lat, lon, label, nil
}

// CurrentAQI returns the current reading for a point.
// @Summary Current AQI
// @Description Current AQI for coordinates, or for a location name when lat/lon are omitted. Falls back across providers.
// @Tags aqi
// @Produce json
// @Param lat query number false "Latitude"
// @Param lon query number false "Longitude"
// @Param location query string false "Location label or name to geocode"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/aqi/current [get]
func (h *Handler) CurrentAQI(w http.ResponseWriter, r *http.Request) {
	lat, lon, label, err := h.point(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	reading, err := h.AQI.Current(r.Context(), lat, lon, label)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, reading)
}

// ForecastAQI returns daily peak forecasts.
// @Summary AQI forecast
// @Tags aqi
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param days query int false "Days (1-7, default 3)"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/aqi/forecast [get]
func (h *Handler) ForecastAQI(w http.ResponseWriter, r *http.Request) {
	lat, lon, label, err := h.point(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	days, err := intQuery(r, "days", defaultForecastDays, 1, aqi.MaxForecastDays)
	if err != nil {
		h.fail(w, err)
		return
	}
	rs, err := h.AQI.Forecast(r.Context(), lat, lon, days, label)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{"days": days, "forecast": rs})
}

// HistoricalAQI returns daily peaks over a past window of at most 30 days.
// @Summary Historical AQI
// @Tags aqi
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param startDate query string true "Start (RFC3339 or YYYY-MM-DD)"
// @Param endDate query string false "End (default now)"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Failure 503 {object} respond.ErrorResponse
// @Router /api/aqi/historical [get]
func (h *Handler) HistoricalAQI(w http.ResponseWriter, r *http.Request) {
	lat, lon, label, err := h.point(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	q := r.URL.Query()
	if q.Get("startDate") == "" {
		h.fail(w, apperr.Invalid("startDate", "is required"))
		return
	}
	start, err := parseDate(q.Get("startDate"))
	if err != nil {
		h.fail(w, apperr.Invalid("startDate", "must be RFC3339 or YYYY-MM-DD"))
		return
	}
	end := h.now()
	if raw := q.Get("endDate"); raw != "" {
		if end, err = parseDate(raw); err != nil {
			h.fail(w, apperr.Invalid("endDate", "must be RFC3339 or YYYY-MM-DD"))
			return
		}
	}

	rs, err := h.AQI.Historical(r.Context(), lat, lon, start, end, label)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"period":   map[string]time.Time{"start": start, "end": end},
		"readings": rs,
	})
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// NearbyStations lists monitoring stations around a point.
// @Summary Nearby monitoring stations
// @Tags aqi
// @Produce json
// @Param lat query number true "Latitude"
// @Param lon query number true "Longitude"
// @Param radius query int false "Radius km (max 100, default 50)"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/aqi/nearby-stations [get]
func (h *Handler) NearbyStations(w http.ResponseWriter, r *http.Request) {
	lat, lon, _, err := h.point(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	radius, err := intQuery(r, "radius", defaultRadiusKm, 1, maxRadiusKm)
	if err != nil {
		h.fail(w, err)
		return
	}
	stations, err := h.AQI.NearbyStations(r.Context(), lat, lon, float64(radius))
	if err != nil {
		h.fail(w, err)
		return
	}
	if stations == nil {
		stations = []aqi.Station{}
	}
	respond.OK(w, http.StatusOK, map[string]any{
		"stations":     stations,
		"searchRadius": radius,
		"center":       map[string]float64{"latitude": lat, "longitude": lon},
	})
}

// Categories returns the fixed AQI category table.
// @Summary AQI categories
// @Tags aqi
// @Produce json
// @Success 200 {object} respond.Envelope
// @Success 304 "Not modified"
// @Router /api/aqi/categories [get]
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	h.cached(w, r, "aqi:categories", cache.TTLStatic, func() (any, error) {
		return map[string]any{
			"categories":  aqi.Categories(),
			"description": "AQI categories with color codes and health implications",
		}, nil
	})
}

// HealthRecommendations returns guidance for an AQI value.
// @Summary Health recommendations
// @Tags aqi
// @Produce json
// @Param aqi query int true "AQI value (0-500)"
// @Success 200 {object} respond.Envelope
// @Failure 400 {object} respond.ErrorResponse
// @Router /api/aqi/health-recommendations [get]
func (h *Handler) HealthRecommendations(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("aqi")
	if raw == "" {
		h.fail(w, apperr.Invalid("aqi", "is required"))
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < aqi.MinAQI || v > aqi.MaxAQI {
		h.fail(w, apperr.Invalid("aqi", "must be an integer between 0 and 500"))
		return
	}
	h.cached(w, r, fmt.Sprintf("aqi:guidance:%d", v), cache.TTLGuidance, func() (any, error) {
		return aqi.HealthRecommendations(v), nil
	})
}

type checkAlertsRequest struct {
	ForceCheck bool `json:"forceCheck"`
}

// CheckAlerts runs the alert evaluator once (internal API key).
// @Summary Trigger an alert check
// @Description Evaluates every active, verified subscription now. forceCheck bypasses cooldown and notification windows.
// @Tags aqi
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body checkAlertsRequest false "Options"
// @Success 200 {object} respond.Envelope
// @Failure 401 {object} respond.ErrorResponse
// @Router /api/aqi/check-alerts [post]
func (h *Handler) CheckAlerts(w http.ResponseWriter, r *http.Request) {
	var req checkAlertsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	h.Logger.Info("Manual alert check requested", "force", req.ForceCheck)
	sum, err := h.Evaluator.Run(r.Context(), req.ForceCheck)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond.OKMessage(w, http.StatusOK, "AQI alert check completed", sum)
}
