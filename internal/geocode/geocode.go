// Package geocode resolves free-text locations to coordinates and back,
// using the OpenWeatherMap geocoding API.
//
// Outside production a deterministic synthetic resolver answers when the
// API is unconfigured or failing, so subscriptions can be created locally.
package geocode

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/albapepper/breatheasy/internal/apperr"
)

const (
	openWeatherGeoURL = "https://api.openweathermap.org/geo/1.0"
	defaultLimit      = 5
)

// Place is a resolved location.
type Place struct {
	Name      string  `json:"name"`
	FullName  string  `json:"full_name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	State     string  `json:"state,omitempty"`
	City      string  `json:"city,omitempty"`
	Synthetic bool    `json:"synthetic,omitempty"`
}

// Client wraps the OpenWeather geocoding endpoints.
type Client struct {
	http       *resty.Client
	apiKey     string
	production bool
	logger     *slog.Logger
}

// New creates a geocoding client. apiKey may be empty, in which case only
// the synthetic resolver is available (and only outside production).
func New(apiKey string, timeout time.Duration, production bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(openWeatherGeoURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:       httpClient,
		apiKey:     apiKey,
		production: production,
		logger:     logger,
	}
}

// WithBaseURL points the client at another host (tests, proxies).
func (c *Client) WithBaseURL(u string) *Client {
	c.http.SetBaseURL(u)
	return c
}

type owPlace struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

func (p owPlace) place() Place {
	full := p.Name
	if p.State != "" {
		full += ", " + p.State
	}
	if p.Country != "" {
		full += ", " + p.Country
	}
	return Place{
		Name:      p.Name,
		FullName:  full,
		Latitude:  p.Lat,
		Longitude: p.Lon,
		Country:   p.Country,
		State:     p.State,
		City:      p.Name,
	}
}

// Geocode resolves a free-text query to up to five candidate places.
func (c *Client) Geocode(ctx context.Context, query string) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("location", "is required")
	}
	if c.apiKey == "" {
		return c.fallback(query, fmt.Errorf("no geocoding API key"))
	}

	var result []owPlace
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": fmt.Sprint(defaultLimit),
			"appid": c.apiKey,
		}).
		SetResult(&result).
		Get("/direct")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("geocode returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if err == nil && len(result) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", apperr.ErrNotFound, query)
	}
	if err != nil {
		return c.fallback(query, err)
	}

	places := make([]Place, len(result))
	for i, p := range result {
		places[i] = p.place()
	}
	return places, nil
}

// Reverse resolves coordinates to the nearest named place.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (Place, error) {
	if c.apiKey == "" {
		return c.reverseFallback(lat, lon, fmt.Errorf("no geocoding API key"))
	}

	var result []owPlace
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":   fmt.Sprintf("%.4f", lat),
			"lon":   fmt.Sprintf("%.4f", lon),
			"limit": "1",
			"appid": c.apiKey,
		}).
		SetResult(&result).
		Get("/reverse")
	if err == nil && resp.IsError() {
		err = fmt.Errorf("reverse geocode returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if err == nil && len(result) == 0 {
		err = fmt.Errorf("no results")
	}
	if err != nil {
		return c.reverseFallback(lat, lon, err)
	}
	return result[0].place(), nil
}

// Resolve returns the best single match for a query.
func (c *Client) Resolve(ctx context.Context, query string) (Place, error) {
	places, err := c.Geocode(ctx, query)
	if err != nil {
		return Place{}, err
	}
	return places[0], nil
}

func (c *Client) fallback(query string, cause error) ([]Place, error) {
	if c.production {
		return nil, apperr.Upstream("geocoding", cause)
	}
	c.logger.Warn("Geocoding unavailable, using synthetic coordinates", "query", query, "error", cause)
	return []Place{syntheticPlace(query)}, nil
}

func (c *Client) reverseFallback(lat, lon float64, cause error) (Place, error) {
	if c.production {
		return Place{}, apperr.Upstream("reverse geocoding", cause)
	}
	c.logger.Warn("Reverse geocoding unavailable, using synthetic place", "lat", lat, "lon", lon, "error", cause)
	name := fmt.Sprintf("Location %.2f, %.2f", lat, lon)
	return Place{Name: name, FullName: name, Latitude: lat, Longitude: lon, Synthetic: true}, nil
}

// syntheticPlace derives stable pseudo-coordinates from the query text so
// the same name always lands on the same point.
func syntheticPlace(query string) Place {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(query)))
	sum := h.Sum64()
	lat := float64(sum%12000)/100 - 60          // [-60, 60)
	lon := float64((sum/12000)%36000)/100 - 180 // [-180, 180)
	return Place{
		Name:      query,
		FullName:  query,
		Latitude:  lat,
		Longitude: lon,
		Synthetic: true,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
