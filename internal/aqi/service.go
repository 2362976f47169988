package aqi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/breatheasy/internal/apperr"
)

// Source is one provider in the fallback chain. Implementations return a
// raw reading (AQI already on the 0–500 scale) or an error.
type Source interface {
	Name() string
	Current(ctx context.Context, lat, lon float64) (Reading, error)
}

// ForecastSource is implemented by sources that can forecast daily peaks.
type ForecastSource interface {
	Source
	Forecast(ctx context.Context, lat, lon float64, days int) ([]Reading, error)
}

// HistorySource is implemented by sources with a historical endpoint.
type HistorySource interface {
	Source
	History(ctx context.Context, lat, lon float64, start, end time.Time) ([]Reading, error)
}

// StationSource is implemented by sources that can list monitoring stations.
type StationSource interface {
	Source
	Stations(ctx context.Context, lat, lon, radiusKm float64) ([]Station, error)
}

// ErrNoData is returned by a source that answered but had nothing for the
// requested point.
var ErrNoData = errors.New("no data for location")

// ErrNoUpstream means the chain has no real provider configured.
var ErrNoUpstream = errors.New("no upstream AQI provider configured")

// probe coordinates for upstream reachability checks (New York City).
const (
	probeLat = 40.7128
	probeLon = -74.0060
)

// Service walks the source chain in order and normalizes the first answer.
type Service struct {
	sources   []Source
	synthetic bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the fallback chain from the given sources, in order.
// When allowSynthetic is set (non-production), a Synthetic source is
// appended as the last resort.
func NewService(sources []Source, allowSynthetic bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	chain := make([]Source, 0, len(sources)+1)
	for _, s := range sources {
		if s != nil {
			chain = append(chain, s)
		}
	}
	if allowSynthetic {
		chain = append(chain, NewSynthetic(0))
	}
	return &Service{
		sources:   chain,
		synthetic: allowSynthetic,
		logger:    logger,
		now:       time.Now,
	}
}

// ConfiguredSources returns the real providers that have credentials, in
// fallback order: OpenWeather, then WAQI.
func ConfiguredSources(openWeatherKey, waqiToken string, timeout time.Duration, logger *slog.Logger) []Source {
	var sources []Source
	if ow := NewOpenWeather(openWeatherKey, timeout, logger); ow != nil {
		sources = append(sources, ow)
	}
	if wq := NewWAQI(waqiToken, timeout, logger); wq != nil {
		sources = append(sources, wq)
	}
	return sources
}

// SourceNames lists the chain in fallback order.
func (s *Service) SourceNames() []string {
	names := make([]string, len(s.sources))
	for i, src := range s.sources {
		names[i] = src.Name()
	}
	return names
}

// SyntheticEnabled reports whether synthetic data backs the chain.
func (s *Service) SyntheticEnabled() bool { return s.synthetic }

// Current returns the reading for a point. label, when set, becomes the
// reading's location name.
func (s *Service) Current(ctx context.Context, lat, lon float64, label string) (Reading, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return Reading{}, err
	}
	var errs []error
	for _, src := range s.sources {
		r, err := src.Current(ctx, lat, lon)
		if err != nil {
			s.logger.Warn("AQI source failed, trying next", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		r.Source = src.Name()
		return normalize(r, lat, lon, label, s.now()), nil
	}
	return Reading{}, s.exhausted("current", errs)
}

// Forecast returns up to days daily peak readings (1 ≤ days ≤ 7).
func (s *Service) Forecast(ctx context.Context, lat, lon float64, days int, label string) ([]Reading, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if days < 1 || days > MaxForecastDays {
		return nil, apperr.Invalid("days", fmt.Sprintf("must be between 1 and %d", MaxForecastDays))
	}

	var errs []error
	for _, src := range s.sources {
		fs, ok := src.(ForecastSource)
		if !ok {
			continue
		}
		rs, err := fs.Forecast(ctx, lat, lon, days)
		if err == nil && len(rs) == 0 {
			err = ErrNoData
		}
		if err != nil {
			s.logger.Warn("AQI forecast source failed, trying next", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if len(rs) > days {
			rs = rs[:days]
		}
		return s.normalizeAll(rs, src.Name(), lat, lon, label), nil
	}
	return nil, s.exhausted("forecast", errs)
}

// Historical returns daily peak readings between start and end, at most
// 30 days apart.
func (s *Service) Historical(ctx context.Context, lat, lon float64, start, end time.Time, label string) ([]Reading, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if !end.After(start) {
		return nil, apperr.Invalid("end", "must be after start")
	}
	if end.Sub(start) > MaxHistoryWindow {
		return nil, apperr.Invalid("end", "range cannot exceed 30 days")
	}

	var errs []error
	for _, src := range s.sources {
		hs, ok := src.(HistorySource)
		if !ok {
			continue
		}
		rs, err := hs.History(ctx, lat, lon, start, end)
		if err == nil && len(rs) == 0 {
			err = ErrNoData
		}
		if err != nil {
			s.logger.Warn("AQI history source failed, trying next", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		return s.normalizeAll(rs, src.Name(), lat, lon, label), nil
	}
	return nil, s.exhausted("historical", errs)
}

// NearbyStations lists monitoring stations within radiusKm of a point.
func (s *Service) NearbyStations(ctx context.Context, lat, lon, radiusKm float64) ([]Station, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if radiusKm <= 0 || radiusKm > 200 {
		return nil, apperr.Invalid("radius", "must be between 0 and 200 km")
	}

	var errs []error
	for _, src := range s.sources {
		ss, ok := src.(StationSource)
		if !ok {
			continue
		}
		stations, err := ss.Stations(ctx, lat, lon, radiusKm)
		if err != nil {
			s.logger.Warn("AQI station source failed, trying next", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		for i := range stations {
			c := CategoryFor(stations[i].AQI)
			stations[i].Category, stations[i].Color = c.Label, c.Color
		}
		return stations, nil
	}
	return nil, s.exhausted("stations", errs)
}

// Probe checks reachability of the first non-synthetic source. Returns
// ErrNoUpstream when only synthetic data is configured.
func (s *Service) Probe(ctx context.Context) (string, error) {
	for _, src := range s.sources {
		if _, synthetic := src.(*Synthetic); synthetic {
			continue
		}
		_, err := src.Current(ctx, probeLat, probeLon)
		return src.Name(), err
	}
	return "", ErrNoUpstream
}

func (s *Service) normalizeAll(rs []Reading, source string, lat, lon float64, label string) []Reading {
	now := s.now()
	out := make([]Reading, len(rs))
	for i, r := range rs {
		r.Source = source
		out[i] = normalize(r, lat, lon, label, now)
	}
	return out
}

func (s *Service) exhausted(op string, errs []error) error {
	if len(errs) == 0 {
		return fmt.Errorf("%w: no %s source configured", apperr.ErrUpstreamUnavailable, op)
	}
	return fmt.Errorf("%w: all %s sources failed: %w", apperr.ErrUpstreamUnavailable, op, errors.Join(errs...))
}
