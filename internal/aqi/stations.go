package aqi

import (
	"math"
	"sort"
	"time"
)

// Station is a monitoring station near a queried point.
type Station struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	DistanceKm  float64   `json:"distance_km"`
	AQI         int       `json:"aqi"`
	Category    string    `json:"category"`
	Color       string    `json:"color"`
	Source      string    `json:"source"`
	LastUpdated time.Time `json:"last_updated"`
}

func sortStations(s []Station) {
	sort.Slice(s, func(i, j int) bool { return s[i].DistanceKm < s[j].DistanceKm })
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
