/**
 * @description
 * This is the main entry point for the charity service. It initializes and
 * wires together all the components of the application: configuration,
 * logging, the database pool, the event producer, the optional Redis rate
 * limiter and Google Sheets exporter, the application service, and the HTTP
 * router. Finally, it starts the HTTP server and waits for a shutdown signal.
 */
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/qrkot/charity-service/internal/api"
	"github.com/qrkot/charity-service/internal/app"
	"github.com/qrkot/charity-service/internal/config"
	"github.com/qrkot/charity-service/internal/store"
	"github.com/qrkot/charity-service/pkg/rabbitmq"
	"github.com/qrkot/charity-service/pkg/sheets"
)

func newLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

func main() {
	// Load .env for local development (optional).
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.AppEnv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Establish the PostgreSQL connection pool.
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to parse database URL")
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer dbpool.Close()
	logger.Info().Msg("database connection established")

	// Event producer for project closure events; fall back to a no-op
	// publisher so the service still serves traffic without RabbitMQ.
	var events rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn().Err(err).Msg("rabbitmq unavailable, events disabled")
			events = &rabbitmq.EventProducerFallback{}
		} else {
			events = producer
		}
	} else {
		events = &rabbitmq.EventProducerFallback{}
	}
	defer events.Close()

	// Optional distributed donation rate limiter.
	var limiter app.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("invalid REDIS_URL, rate limiting disabled")
		} else {
			limiter = app.NewRedisRateLimiter(redis.NewClient(opts), cfg.RedisRateLimitPrefix)
		}
	}

	// Optional Google Sheets report exporter.
	var reports app.ReportExporter
	if cfg.GoogleCredentialsJSON != "" {
		exporter, err := sheets.NewExporter(ctx, []byte(cfg.GoogleCredentialsJSON), cfg.ReportShareEmail)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets unavailable, report export disabled")
		} else {
			reports = exporter
		}
	}

	// Initialize application layers.
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, events, limiter, reports, cfg.DonationRateLimitPerMinute, logger)
	handlers := api.NewCharityHandlers(service, logger)
	router := api.NewRouter(handlers, cfg.JWTSecret)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
