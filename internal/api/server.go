package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/albapepper/breatheasy/internal/api/handler"
	"github.com/albapepper/breatheasy/internal/config"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(h *handler.Handler, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type", "If-None-Match", "Cache-Control", "X-API-Key"},
		ExposedHeaders:   []string{"X-Process-Time", "X-Cache", "ETag"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	admin := AdminMiddleware(cfg.JWTSecret)
	internal := APIKeyMiddleware(cfg.InternalAPIKey)

	// --- Routes ---
	r.Get("/", h.Root)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/deps", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/docs/doc.json")))

	r.Route("/api", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/subscribe", h.Subscribe)
			r.Get("/status/{email}", h.SubscriptionStatus)
			r.Get("/verify/{token}", h.VerifySubscription)
			r.Post("/unsubscribe", h.UnsubscribeByEmail)
			r.Put("/{id}", h.UpdateSubscription)
			r.Post("/{id}/unsubscribe", h.Unsubscribe)
		})

		r.Route("/aqi", func(r chi.Router) {
			r.Get("/current", h.CurrentAQI)
			r.Get("/forecast", h.ForecastAQI)
			r.Get("/historical", h.HistoricalAQI)
			r.Get("/nearby-stations", h.NearbyStations)
			r.Get("/categories", h.Categories)
			r.Get("/health-recommendations", h.HealthRecommendations)
			r.With(internal).Post("/check-alerts", h.CheckAlerts)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.With(internal).Post("/{id}/delivery", h.DeliveryCallback)

			r.Group(func(r chi.Router) {
				r.Use(admin)
				r.Post("/send-test", h.SendTestNotification)
				r.Get("/history/{id}", h.NotificationHistory)
				r.Get("/stats", h.NotificationStats)
				r.Post("/retry-failed", h.RetryFailed)
				r.Get("/templates", h.Templates)
				r.Post("/broadcast", h.Broadcast)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(admin)
			r.Get("/dashboard", h.Dashboard)
			r.Get("/subscriptions", h.ListSubscriptions)
			r.Put("/subscriptions/{id}/status", h.SetSubscriptionStatus)
			r.Delete("/subscriptions/{id}", h.DeleteSubscription)
			r.Get("/system-health", h.SystemHealth)
			r.Post("/maintenance/cleanup", h.RunCleanup)
			r.Get("/jobs", h.ListJobs)
			r.Post("/jobs/{name}/trigger", h.TriggerJob)
		})
	})

	return r
}
