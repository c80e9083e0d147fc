package container

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/FACorreiaa/go-citytailor/app/db"
	"github.com/FACorreiaa/go-citytailor/config"
	generativeAI "github.com/FACorreiaa/go-citytailor/internal/api/generative_ai"
	"github.com/FACorreiaa/go-citytailor/internal/api/itinerary"
	"github.com/FACorreiaa/go-citytailor/internal/api/recommendations"
	"github.com/FACorreiaa/go-citytailor/internal/api/tracking"
)

// Container holds all application dependencies
type Container struct {
	Config                 *config.Config
	Logger                 *slog.Logger
	Pool                   *pgxpool.Pool
	TrackingHandler        *tracking.HandlerImpl
	ItineraryHandler       *itinerary.HandlerImpl
	RecommendationsHandler *recommendations.HandlerImpl
}

// NewContainer wires repositories, services and handlers over an existing pool.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *Container {
	opts := []tracking.Option{
		tracking.WithTTL(cfg.Engine.SearchContextTTL),
		tracking.WithDefaultLimit(cfg.Recommendations.DefaultLimit),
	}
	if expander := newExpander(ctx, cfg, logger); expander != nil {
		opts = append(opts, tracking.WithExpander(expander))
	}

	trackingRepo := tracking.NewRepository(pool, logger)
	trackingService := tracking.NewServiceImpl(trackingRepo, logger, opts...)

	itineraryRepo := itinerary.NewRepository(pool, logger)
	itineraryService := itinerary.NewServiceImpl(itineraryRepo, logger)

	preferenceRepo := recommendations.NewRepository(pool, logger)
	preferenceService := recommendations.NewServiceImpl(preferenceRepo, logger)

	return &Container{
		Config:                 cfg,
		Logger:                 logger,
		Pool:                   pool,
		TrackingHandler:        tracking.NewHandler(trackingService, logger),
		ItineraryHandler:       itinerary.NewHandler(itineraryService, logger),
		RecommendationsHandler: recommendations.NewHandler(preferenceService, logger),
	}
}

// newExpander returns nil when generative expansion is off or unconfigured.
func newExpander(ctx context.Context, cfg *config.Config, logger *slog.Logger) *recommendations.Expander {
	if !cfg.Recommendations.GenAIEnabled {
		return nil
	}
	client, err := generativeAI.NewAIClient(ctx, cfg.Recommendations.APIKey, cfg.Recommendations.Model)
	if err != nil {
		logger.WarnContext(ctx, "Generative expansion disabled", slog.Any("error", err))
		return nil
	}
	logger.InfoContext(ctx, "Generative expansion enabled", slog.String("model", client.Model()))
	return recommendations.NewExpander(client, logger)
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Ping reports whether the database answers.
func (c *Container) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}
