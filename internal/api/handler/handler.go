// Package handler provides HTTP handlers for all API endpoints.
// Handlers depend on narrow interfaces over the stores and services so they
// can be exercised with in-memory fakes.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/albapepper/breatheasy/internal/alerts"
	"github.com/albapepper/breatheasy/internal/api/respond"
	"github.com/albapepper/breatheasy/internal/apperr"
	"github.com/albapepper/breatheasy/internal/aqi"
	"github.com/albapepper/breatheasy/internal/cache"
	"github.com/albapepper/breatheasy/internal/config"
	"github.com/albapepper/breatheasy/internal/geocode"
	"github.com/albapepper/breatheasy/internal/maintenance"
	"github.com/albapepper/breatheasy/internal/notifications"
	"github.com/albapepper/breatheasy/internal/scheduler"
	"github.com/albapepper/breatheasy/internal/subscription"
)

// --------------------------------------------------------------------------
// Dependencies
// --------------------------------------------------------------------------

// Subscriptions is the subscription store.
type Subscriptions interface {
	Subscribe(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	GetByEmail(ctx context.Context, email string) (*subscription.Subscription, error)
	Update(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, error)
	Unsubscribe(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error)
	UnsubscribeByEmail(ctx context.Context, email string) (*subscription.Subscription, error)
	Verify(ctx context.Context, token string) (*subscription.Subscription, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*subscription.Subscription, error)
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) (*subscription.Subscription, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f subscription.ListFilter) ([]subscription.Subscription, int, error)
	Stats(ctx context.Context) (subscription.Stats, error)
}

// Notifications is the read side of the notification store.
type Notifications interface {
	History(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]notifications.Notification, error)
	Stats(ctx context.Context, since time.Time) (notifications.Stats, error)
}

// Dispatcher sends lifecycle, operator and retry traffic.
type Dispatcher interface {
	SendVerification(ctx context.Context, sub *subscription.Subscription) (notifications.ChannelResult, error)
	SendWelcome(ctx context.Context, sub *subscription.Subscription) (notifications.ChannelResult, error)
	SendTest(ctx context.Context, ch notifications.Channel, to string) (notifications.ChannelResult, error)
	RetryFailed(ctx context.Context) (notifications.RetrySummary, error)
	ApplyCallback(ctx context.Context, id uuid.UUID, event notifications.CallbackEvent, reason string) (*notifications.Notification, error)
	Broadcast(ctx context.Context, f subscription.ListFilter, subject, message string) (notifications.BroadcastSummary, error)
	EmailEnabled() bool
	SMSEnabled() bool
}

// AQI is the provider adapter.
type AQI interface {
	Current(ctx context.Context, lat, lon float64, label string) (aqi.Reading, error)
	Forecast(ctx context.Context, lat, lon float64, days int, label string) ([]aqi.Reading, error)
	Historical(ctx context.Context, lat, lon float64, start, end time.Time, label string) ([]aqi.Reading, error)
	NearbyStations(ctx context.Context, lat, lon, radiusKm float64) ([]aqi.Station, error)
	SourceNames() []string
}

// Geocoder resolves location names.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (geocode.Place, error)
}

// Evaluator runs an alert check pass.
type Evaluator interface {
	Run(ctx context.Context, force bool) (alerts.Summary, error)
}

// Maintenance runs housekeeping on demand.
type Maintenance interface {
	Cleanup(ctx context.Context) (maintenance.CleanupResult, error)
	HealthCheck(ctx context.Context) maintenance.Report
}

// Jobs exposes the background scheduler.
type Jobs interface {
	Status() []scheduler.Status
	Trigger(ctx context.Context, name string) error
}

// Deps wires a Handler.
type Deps struct {
	Subscriptions Subscriptions
	Notifications Notifications
	Dispatcher    Dispatcher
	AQI           AQI
	Geocoder      Geocoder
	Evaluator     Evaluator
	Maintenance   Maintenance
	Jobs          Jobs
	Cache         *cache.Cache
	Config        *config.Config
	Logger        *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	Deps
	started time.Time
	now     func() time.Time
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Cache == nil {
		d.Cache = cache.New(false)
	}
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	return &Handler{Deps: d, started: time.Now(), now: time.Now}
}

// --------------------------------------------------------------------------
// Meta
// --------------------------------------------------------------------------

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version, status and enabled delivery channels.
// @Tags meta
// @Produce json
// @Success 200 {object} respond.Envelope
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, http.StatusOK, map[string]any{
		"name":    "Breathe Easy API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
		"channels": map[string]bool{
			"email": h.Dispatcher != nil && h.Dispatcher.EmailEnabled(),
			"sms":   h.Dispatcher != nil && h.Dispatcher.SMSEnabled(),
		},
	})
}

// HealthCheck returns process status and uptime.
// @Summary Health check
// @Description Returns status, uptime and timestamp. Does not touch dependencies.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.started)
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"uptime":        uptime.Round(time.Second).String(),
		"uptimeSeconds": int64(uptime.Seconds()),
		"environment":   h.Config.Environment,
		"timestamp":     h.now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB runs the full dependency health check.
// @Summary Dependency health check
// @Description Probes Postgres and the primary AQI source and counts recent delivery failures.
// @Tags health
// @Produce json
// @Success 200 {object} maintenance.Report
// @Failure 503 {object} maintenance.Report
// @Router /health/deps [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	rep := h.Maintenance.HealthCheck(r.Context())
	status := http.StatusOK
	if rep.Status == maintenance.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respond.WriteJSONObject(w, status, rep)
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.Cache.Stats(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("body", "must be valid JSON: "+err.Error())
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Invalid(name, "must be a UUID")
	}
	return id, nil
}

func intQuery(r *http.Request, name string, fallback, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	if n < lo {
		return 0, apperr.Invalid(name, fmt.Sprintf("must be at least %d", lo))
	}
	return min(n, hi), nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Invalid(name, "must be true or false")
	}
	return &b, nil
}

// cached serves a GET response from the cache, honoring If-None-Match, and
// fills the cache on a miss.
func (h *Handler) cached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, produce func() (any, error)) {
	if data, etag, ok := h.Cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, ttl, true)
		return
	}

	v, err := produce()
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := respond.Marshal(v)
	if err != nil {
		h.fail(w, err)
		return
	}
	etag := h.Cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, ttl, false)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	respond.Error(w, h.Logger, err)
}

func memoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]any{
		"heapAllocMB": m.HeapAlloc / 1024 / 1024,
		"sysMB":       m.Sys / 1024 / 1024,
		"goroutines":  runtime.NumGoroutine(),
		"gcCycles":    m.NumGC,
	}
}
