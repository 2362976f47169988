package aqi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const waqiBaseURL = "https://api.waqi.info"

// WAQI is the backup source (World Air Quality Index project). It reports
// US AQI directly, so no scale conversion is needed.
type WAQI struct {
	http   *resty.Client
	token  string
	logger *slog.Logger
}

// NewWAQI creates the client. Returns nil when token is empty.
func NewWAQI(token string, timeout time.Duration, logger *slog.Logger) *WAQI {
	if token == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WAQI{
		http:   newSourceClient(waqiBaseURL, timeout, rate.NewLimiter(rate.Limit(10), 10)),
		token:  token,
		logger: logger,
	}
}

// WithBaseURL points the client at another host (tests, proxies).
func (c *WAQI) WithBaseURL(u string) *WAQI {
	c.http.SetBaseURL(u)
	return c
}

func (c *WAQI) Name() string { return "waqi" }

type waqiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type waqiValue struct {
	V float64 `json:"v"`
}

type waqiFeed struct {
	AQI  json.RawMessage `json:"aqi"` // number, or "-" when the station is offline
	City struct {
		Name string    `json:"name"`
		Geo  []float64 `json:"geo"`
	} `json:"city"`
	IAQI struct {
		PM25 waqiValue `json:"pm25"`
		PM10 waqiValue `json:"pm10"`
		O3   waqiValue `json:"o3"`
		NO2  waqiValue `json:"no2"`
		SO2  waqiValue `json:"so2"`
		CO   waqiValue `json:"co"`
	} `json:"iaqi"`
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
	Forecast struct {
		Daily struct {
			PM25 []struct {
				Day string `json:"day"`
				Max int    `json:"max"`
			} `json:"pm25"`
		} `json:"daily"`
	} `json:"forecast"`
}

type waqiStation struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	UID     int     `json:"uid"`
	AQI     string  `json:"aqi"`
	Station struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"station"`
}

// Current fetches the nearest station feed for a point.
func (c *WAQI) Current(ctx context.Context, lat, lon float64) (Reading, error) {
	feed, err := c.feed(ctx, lat, lon)
	if err != nil {
		return Reading{}, err
	}
	value, err := parseWAQIValue(feed.AQI)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{
		AQI:      value,
		Location: feed.City.Name,
		Pollutants: Pollutants{
			PM25: feed.IAQI.PM25.V,
			PM10: feed.IAQI.PM10.V,
			O3:   feed.IAQI.O3.V,
			NO2:  feed.IAQI.NO2.V,
			SO2:  feed.IAQI.SO2.V,
			CO:   feed.IAQI.CO.V,
		},
		Latitude:   lat,
		Longitude:  lon,
		Confidence: 0.8,
	}
	if ts, err := time.Parse(time.RFC3339, feed.Time.ISO); err == nil {
		r.Timestamp = ts.UTC()
	}
	return r, nil
}

// Forecast uses the PM2.5 daily maxima that ship with the station feed.
func (c *WAQI) Forecast(ctx context.Context, lat, lon float64, days int) ([]Reading, error) {
	feed, err := c.feed(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	today := time.Now().UTC().Format(time.DateOnly)

	var out []Reading
	for _, d := range feed.Forecast.Daily.PM25 {
		if d.Day < today {
			continue
		}
		day, err := time.Parse(time.DateOnly, d.Day)
		if err != nil {
			continue
		}
		out = append(out, Reading{
			AQI:        d.Max,
			Location:   feed.City.Name,
			Pollutants: Pollutants{PM25: float64(d.Max)},
			Timestamp:  day,
			Confidence: 0.6,
		})
		if len(out) == days {
			break
		}
	}
	return out, nil
}

// Stations lists stations inside the bounding box around a point.
func (c *WAQI) Stations(ctx context.Context, lat, lon, radiusKm float64) ([]Station, error) {
	dLat := radiusKm / 111.0
	dLon := radiusKm / (111.0 * math.Max(math.Cos(lat*math.Pi/180), 0.01))
	bounds := fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", lat-dLat, lon-dLon, lat+dLat, lon+dLon)

	data, err := c.get(ctx, "/map/bounds/", map[string]string{"latlng": bounds})
	if err != nil {
		return nil, err
	}
	var raw []waqiStation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode stations: %w", err)
	}

	stations := make([]Station, 0, len(raw))
	for _, s := range raw {
		value, err := strconv.Atoi(s.AQI)
		if err != nil {
			continue // offline station
		}
		dist := haversineKm(lat, lon, s.Lat, s.Lon)
		if dist > radiusKm {
			continue
		}
		st := Station{
			ID:         strconv.Itoa(s.UID),
			Name:       s.Station.Name,
			Latitude:   s.Lat,
			Longitude:  s.Lon,
			DistanceKm: math.Round(dist*10) / 10,
			AQI:        Clamp(value),
			Source:     c.Name(),
		}
		if ts, err := time.Parse(time.RFC3339, s.Station.Time); err == nil {
			st.LastUpdated = ts.UTC()
		}
		stations = append(stations, st)
	}
	sortStations(stations)
	return stations, nil
}

func (c *WAQI) feed(ctx context.Context, lat, lon float64) (*waqiFeed, error) {
	path := fmt.Sprintf("/feed/geo:%.4f;%.4f/", lat, lon)
	data, err := c.get(ctx, path, map[string]string{})
	if err != nil {
		return nil, err
	}
	var feed waqiFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &feed, nil
}

// get performs a rate-limited GET and unwraps the {status, data} envelope.
func (c *WAQI) get(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	params["token"] = c.token
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("WAQI %s returned %d: %s", path, resp.StatusCode(), truncate(resp.Body(), 200))
	}

	var env waqiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("WAQI %s status %q: %s", path, env.Status, truncate(env.Data, 200))
	}
	return env.Data, nil
}

func parseWAQIValue(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "-" {
		return 0, ErrNoData
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse aqi %q: %w", s, err)
	}
	return int(math.Round(f)), nil
}
