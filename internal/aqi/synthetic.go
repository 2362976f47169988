package aqi

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Synthetic fabricates plausible readings for development when no real
// provider answers. Values are bounded to [0,500] and skewed low.
type Synthetic struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// NewSynthetic returns a synthetic source. seed 0 picks a time-based seed.
func NewSynthetic(seed uint64) *Synthetic {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Synthetic{
		rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Current(_ context.Context, lat, lon float64) (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reading(s.value())
	r.Latitude, r.Longitude = lat, lon
	r.Timestamp = s.now().UTC()
	return r, nil
}

func (s *Synthetic) Forecast(_ context.Context, lat, lon float64, days int) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.now().UTC().Truncate(24 * time.Hour)
	base := s.value()
	out := make([]Reading, 0, days)
	for i := 0; i < days; i++ {
		drift := int(math.Round((s.rnd.Float64() - 0.5) * 40))
		r := s.reading(Clamp(base + drift))
		r.Latitude, r.Longitude = lat, lon
		r.Timestamp = start.Add(time.Duration(i) * 24 * time.Hour)
		r.Confidence = math.Max(0.1, 0.3-float64(i)*0.03)
		out = append(out, r)
	}
	return out, nil
}

func (s *Synthetic) History(_ context.Context, lat, lon float64, start, end time.Time) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reading
	for day := start.UTC().Truncate(24 * time.Hour); !day.After(end); day = day.Add(24 * time.Hour) {
		r := s.reading(s.value())
		r.Latitude, r.Longitude = lat, lon
		r.Timestamp = day
		out = append(out, r)
	}
	return out, nil
}

func (s *Synthetic) Stations(_ context.Context, lat, lon, radiusKm float64) ([]Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const count = 5
	now := s.now().UTC()
	stations := make([]Station, 0, count)
	for i := 0; i < count; i++ {
		bearing := s.rnd.Float64() * 2 * math.Pi
		dist := s.rnd.Float64() * radiusKm
		sLat := lat + (dist/111.0)*math.Cos(bearing)
		sLon := lon + (dist/(111.0*math.Max(math.Cos(lat*math.Pi/180), 0.01)))*math.Sin(bearing)
		stations = append(stations, Station{
			ID:          fmt.Sprintf("synthetic-%d", i+1),
			Name:        fmt.Sprintf("Monitoring Station %d", i+1),
			Latitude:    sLat,
			Longitude:   sLon,
			DistanceKm:  math.Round(haversineKm(lat, lon, sLat, sLon)*10) / 10,
			AQI:         s.value(),
			Source:      s.Name(),
			LastUpdated: now.Add(-time.Duration(s.rnd.IntN(60)) * time.Minute),
		})
	}
	sortStations(stations)
	return stations, nil
}

// value draws from [0,500] with density concentrated toward low values.
func (s *Synthetic) value() int {
	u := s.rnd.Float64()
	return Clamp(int(math.Round(u * u * MaxAQI)))
}

func (s *Synthetic) reading(aqi int) Reading {
	scale := float64(aqi) / 100
	jitter := func(base float64) float64 {
		return math.Round(base*scale*(0.8+0.4*s.rnd.Float64())*10) / 10
	}
	return Reading{
		AQI: aqi,
		Pollutants: Pollutants{
			PM25: jitter(25),
			PM10: jitter(40),
			O3:   jitter(60),
			NO2:  jitter(20),
			SO2:  jitter(8),
			CO:   jitter(400),
		},
		Confidence: 0.3,
	}
}
