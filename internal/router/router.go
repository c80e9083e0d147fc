package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/FACorreiaa/go-citytailor/internal/api/itinerary"
	"github.com/FACorreiaa/go-citytailor/internal/api/recommendations"
	"github.com/FACorreiaa/go-citytailor/internal/api/tracking"
)

// Config contains dependencies needed for the router setup
type Config struct {
	AllowedOrigins         []string
	TrackingHandler        tracking.Handler
	ItineraryHandler       itinerary.Handler
	RecommendationsHandler *recommendations.HandlerImpl
	// IdentityMiddleware verifies an optional bearer token.
	IdentityMiddleware func(http.Handler) http.Handler
	MetricsHandler     http.Handler
	Health             func(r *http.Request) error
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (request id, logging, recoverer) is applied in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.IdentityMiddleware != nil {
			r.Use(cfg.IdentityMiddleware)
		}

		if h := cfg.TrackingHandler; h != nil {
			r.Post("/track-search", h.TrackSearchHandler)
			r.Post("/track-interaction", h.TrackInteractionHandler)
			r.Get("/home-recommendations", h.HomeRecommendationsHandler)
			r.Post("/migrate-anonymous-to-user", h.MigrateAnonymousHandler)
			r.Delete("/search-context", h.ClearSearchContextHandler)
			r.Get("/trending", h.TrendingHandler)
		}

		if h := cfg.ItineraryHandler; h != nil {
			r.Route("/itineraries", func(r chi.Router) {
				r.Get("/", h.ListItinerariesHandler)
				r.Post("/", h.CreateItineraryHandler)
				r.Get("/{itineraryID}/activities", h.GetActivitiesHandler)
				r.Post("/{itineraryID}/activities", h.AddActivityHandler)
				r.Delete("/{itineraryID}/activities/{name}", h.RemoveActivityHandler)
			})
		}

		if h := cfg.RecommendationsHandler; h != nil {
			r.Post("/submit-preferences", h.SubmitPreferencesHandler)
		}
	})

	return r
}
