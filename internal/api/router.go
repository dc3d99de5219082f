package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/renex-id/renex/internal/api/middleware"
	"github.com/renex-id/renex/internal/config"
	"github.com/renex-id/renex/internal/handlers"
	"github.com/renex-id/renex/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, db store.DataStore, redisStore *store.RedisStore) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - browsers and terminals alike call the API
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(db, redisStore, handlers.Options{
		SendCooldown:      cfg.SendCooldown,
		MaxThreadMessages: cfg.MaxThreadMessages,
	})
	auth := middleware.NewAuthMiddleware(cfg.SessionSecret)

	// Rate limiting runs inside each group so authenticated limits can
	// key on the caller's handle.
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.Get("/", h.Root)
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)
	})

	// Authenticated routes (require bearer session)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		r.Use(limiter.Middleware)

		r.Get("/chat/list", h.ListThread)
		r.Post("/chat/send", h.Send)
		r.Put("/keys", h.PutKey)
		r.Get("/keys/{handle}", h.GetKey)
	})

	return r
}
