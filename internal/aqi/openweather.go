package aqi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

// ordinalAQI maps OpenWeather's 1..5 air-quality index onto the US scale.
var ordinalAQI = map[int]int{1: 25, 2: 75, 3: 125, 4: 175, 5: 275}

// OrdinalToAQI converts an OpenWeather index. Unknown ordinals map to 150.
func OrdinalToAQI(ordinal int) int {
	if v, ok := ordinalAQI[ordinal]; ok {
		return v
	}
	return 150
}

// OpenWeather is the primary source (OpenWeatherMap Air Pollution API).
// Free tier allows 60 calls/minute; the limiter keeps us under that.
type OpenWeather struct {
	http   *resty.Client
	apiKey string
	logger *slog.Logger
}

// NewOpenWeather creates the client. Returns nil when apiKey is empty so the
// source drops out of the chain.
func NewOpenWeather(apiKey string, timeout time.Duration, logger *slog.Logger) *OpenWeather {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OpenWeather{
		http:   newSourceClient(openWeatherBaseURL, timeout, rate.NewLimiter(rate.Limit(1), 5)),
		apiKey: apiKey,
		logger: logger,
	}
}

// WithBaseURL points the client at another host (tests, proxies).
func (c *OpenWeather) WithBaseURL(u string) *OpenWeather {
	c.http.SetBaseURL(u)
	return c
}

func (c *OpenWeather) Name() string { return "openweather" }

type owResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	List []owEntry `json:"list"`
}

type owEntry struct {
	Main struct {
		AQI int `json:"aqi"`
	} `json:"main"`
	Components struct {
		CO   float64 `json:"co"`
		NO2  float64 `json:"no2"`
		O3   float64 `json:"o3"`
		SO2  float64 `json:"so2"`
		PM25 float64 `json:"pm2_5"`
		PM10 float64 `json:"pm10"`
	} `json:"components"`
	Dt int64 `json:"dt"`
}

func (e owEntry) reading() Reading {
	return Reading{
		AQI: OrdinalToAQI(e.Main.AQI),
		Pollutants: Pollutants{
			PM25: e.Components.PM25,
			PM10: e.Components.PM10,
			O3:   e.Components.O3,
			NO2:  e.Components.NO2,
			SO2:  e.Components.SO2,
			CO:   e.Components.CO,
		},
		Timestamp:  time.Unix(e.Dt, 0).UTC(),
		Confidence: 0.9,
	}
}

// Current fetches /air_pollution for a point.
func (c *OpenWeather) Current(ctx context.Context, lat, lon float64) (Reading, error) {
	resp, err := c.get(ctx, "/air_pollution", c.pointParams(lat, lon))
	if err != nil {
		return Reading{}, err
	}
	if len(resp.List) == 0 {
		return Reading{}, ErrNoData
	}
	r := resp.List[0].reading()
	r.Latitude, r.Longitude = lat, lon
	return r, nil
}

// Forecast fetches the hourly forecast and reduces it to daily peaks.
func (c *OpenWeather) Forecast(ctx context.Context, lat, lon float64, days int) ([]Reading, error) {
	resp, err := c.get(ctx, "/air_pollution/forecast", c.pointParams(lat, lon))
	if err != nil {
		return nil, err
	}
	peaks := dailyPeaks(resp.List)
	if len(peaks) > days {
		peaks = peaks[:days]
	}
	return peaks, nil
}

// History fetches hourly history between start and end as daily peaks.
func (c *OpenWeather) History(ctx context.Context, lat, lon float64, start, end time.Time) ([]Reading, error) {
	params := c.pointParams(lat, lon)
	params["start"] = strconv.FormatInt(start.Unix(), 10)
	params["end"] = strconv.FormatInt(end.Unix(), 10)
	resp, err := c.get(ctx, "/air_pollution/history", params)
	if err != nil {
		return nil, err
	}
	return dailyPeaks(resp.List), nil
}

func (c *OpenWeather) pointParams(lat, lon float64) map[string]string {
	return map[string]string{
		"lat":   strconv.FormatFloat(lat, 'f', 4, 64),
		"lon":   strconv.FormatFloat(lon, 'f', 4, 64),
		"appid": c.apiKey,
	}
}

// get performs a rate-limited GET request against the air pollution API.
func (c *OpenWeather) get(ctx context.Context, path string, params map[string]string) (*owResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("OpenWeather %s returned %d: %s", path, resp.StatusCode(), truncate(resp.Body(), 200))
	}

	var result owResponse
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// newSourceClient builds the resty client shared by the upstream sources.
// Every request waits on limiter before it is sent.
func newSourceClient(baseURL string, timeout time.Duration, limiter *rate.Limiter) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if err := limiter.Wait(r.Context()); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			return nil
		})
}

// dailyPeaks keeps the worst hourly entry of each UTC day, oldest first.
func dailyPeaks(entries []owEntry) []Reading {
	byDay := make(map[string]Reading)
	for _, e := range entries {
		r := e.reading()
		day := r.Timestamp.Format(time.DateOnly)
		if cur, ok := byDay[day]; !ok || r.AQI > cur.AQI {
			byDay[day] = r
		}
	}
	out := make([]Reading, 0, len(byDay))
	for _, r := range byDay {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
