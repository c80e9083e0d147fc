package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	database "github.com/FACorreiaa/go-citytailor/app/db"
	appLogger "github.com/FACorreiaa/go-citytailor/app/logger"
	appMiddleware "github.com/FACorreiaa/go-citytailor/app/middleware"
	"github.com/FACorreiaa/go-citytailor/app/tracer"
	"github.com/FACorreiaa/go-citytailor/config"
	"github.com/FACorreiaa/go-citytailor/internal/container"
	"github.com/FACorreiaa/go-citytailor/internal/router"
)

// @title        CityTailor API
// @version      1.0
// @description  Activity tracking, search context and recommendations for CityTailor.
// @BasePath     /
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := appLogger.New(os.Getenv("APP_ENV"), os.Stdout)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	provider, err := tracer.InitTracingAndMetrics(cfg.Observability.ServiceName)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.Any("error", err))
		os.Exit(1)
	}

	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}
	if err = database.RunMigrations(dbConfig.ConnectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}

	c := container.NewContainer(ctx, &cfg, pool, logger)
	defer c.Close()

	if !c.WaitForDB(ctx) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	routerConfig := &router.Config{
		AllowedOrigins:         cfg.Server.AllowedOrigins,
		TrackingHandler:        c.TrackingHandler,
		ItineraryHandler:       c.ItineraryHandler,
		RecommendationsHandler: c.RecommendationsHandler,
		IdentityMiddleware:     appMiddleware.Identity([]byte(cfg.Auth.JWTSecret), cfg.Auth.Audience, logger),
		Health:                 func(r *http.Request) error { return c.Ping(r.Context()) },
	}
	metricsPort := cfg.Observability.Prometheus.Port
	if metricsPort == "" || metricsPort == cfg.Server.HTTPPort {
		routerConfig.MetricsHandler = provider.Handler()
	}

	timeout := cfg.Server.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(timeout))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", router.SetupRouter(routerConfig))

	serverAddress := fmt.Sprintf(":%s", cfg.Server.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddress,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: timeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	var metricsSrv *http.Server
	if routerConfig.MetricsHandler == nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", provider.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%s", metricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", slog.String("address", metricsSrv.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", slog.Any("error", err))
			}
		}()
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("address", serverAddress), slog.Bool("tls", cfg.Server.EnableTLS))
		var err error
		if cfg.Server.EnableTLS {
			err = srv.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
	} else {
		logger.Info("HTTP server gracefully stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", slog.Any("error", err))
		}
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
	}
	logger.Info("Application shut down complete.")
}
