package geocode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/breatheasy/internal/apperr"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/direct", r.URL.Path)
		assert.Equal(t, "Portland", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"name":"Portland","lat":45.5152,"lon":-122.6784,"country":"US","state":"Oregon"},
			{"name":"Portland","lat":43.6591,"lon":-70.2568,"country":"US","state":"Maine"}]`)
	}))
	defer srv.Close()

	c := New("key", time.Second, true, quietLogger()).WithBaseURL(srv.URL)
	places, err := c.Geocode(context.Background(), "Portland")
	require.NoError(t, err)
	require.Len(t, places, 2)

	assert.Equal(t, "Portland, Oregon, US", places[0].FullName)
	assert.InDelta(t, 45.5152, places[0].Latitude, 1e-6)
	assert.False(t, places[0].Synthetic)
}

func TestGeocodeNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := New("key", time.Second, true, quietLogger()).WithBaseURL(srv.URL)
	_, err := c.Geocode(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGeocodeProductionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("key", time.Second, true, quietLogger()).WithBaseURL(srv.URL)
	_, err := c.Geocode(context.Background(), "Paris")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestGeocodeSyntheticOutsideProduction(t *testing.T) {
	c := New("", time.Second, false, quietLogger())

	a, err := c.Resolve(context.Background(), "Springfield")
	require.NoError(t, err)
	b, err := c.Resolve(context.Background(), "springfield")
	require.NoError(t, err)

	assert.True(t, a.Synthetic)
	assert.Equal(t, a.Latitude, b.Latitude, "synthetic coordinates are stable per name")
	assert.GreaterOrEqual(t, a.Latitude, -60.0)
	assert.Less(t, a.Latitude, 60.0)
	assert.GreaterOrEqual(t, a.Longitude, -180.0)
	assert.Less(t, a.Longitude, 180.0)
}

func TestGeocodeRequiresQuery(t *testing.T) {
	c := New("", time.Second, false, quietLogger())
	_, err := c.Geocode(context.Background(), "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"name":"Lyon","lat":45.76,"lon":4.83,"country":"FR"}]`)
	}))
	defer srv.Close()

	c := New("key", time.Second, true, quietLogger()).WithBaseURL(srv.URL)
	p, err := c.Reverse(context.Background(), 45.76, 4.83)
	require.NoError(t, err)
	assert.Equal(t, "Lyon", p.Name)
	assert.Equal(t, "FR", p.Country)
}
