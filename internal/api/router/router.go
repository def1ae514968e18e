package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lymhealth/coaching-engine/internal/coach"
	httpmiddleware "github.com/lymhealth/coaching-engine/internal/http/middleware"
	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger       *logging.Logger
	CoachHandler *coach.Handler

	AuthJWTSecret      string
	RateLimitPerSecond float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
	MetricsHandler     http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health checks, metrics)
	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Coaching routes (authenticated, rate limited)
	if cfg.CoachHandler != nil {
		r.Route("/v1/coach", func(coachRoutes chi.Router) {
			coachRoutes.Use(httpmiddleware.UserJWT(cfg.AuthJWTSecret))
			if cfg.RateLimitPerSecond > 0 {
				coachRoutes.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
			}
			coachRoutes.Post("/start", cfg.CoachHandler.Start)
			coachRoutes.Post("/message", cfg.CoachHandler.Message)
			coachRoutes.Get("/history/{conversationID}", cfg.CoachHandler.History)
		})
	}

	return r
}
