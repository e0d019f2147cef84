package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/api"
	"github.com/irfndi/adaptive-ensemble/internal/api/handlers"
	"github.com/irfndi/adaptive-ensemble/internal/cache"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/irfndi/adaptive-ensemble/internal/kafka"
	"github.com/irfndi/adaptive-ensemble/internal/logging"
	"github.com/irfndi/adaptive-ensemble/internal/marketdata"
	"github.com/irfndi/adaptive-ensemble/internal/middleware"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Environment: cfg.Environment})

	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	shutdownLogs, err := logging.InstallOTLP(logger, logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled && cfg.Telemetry.Exporter == "otlp",
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Environment,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to install OTLP log export, continuing with local logs")
	} else {
		defer func() { _ = shutdownLogs(context.Background()) }()
	}

	store, closeStore, err := openStore(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis is optional; a nil interface keeps the cache and health check off.
	var weightCache services.WeightCache
	var redisHealth handlers.HealthChecker
	if cfg.Redis.Enabled {
		redisClient, err := database.NewRedisConnection(cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		rc := cache.NewRedisWeightCache(redisClient.Client, cfg.Redis.WeightTTL, logger)
		defer rc.LogStats()
		weightCache = rc
		redisHealth = redisClient
	}

	bus := events.NewBus()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Kafka.Enabled {
		publisher, err := kafka.NewPublisher(cfg.Kafka, logger)
		if err != nil {
			return err
		}
		publisher.Start(ctx, bus)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close kafka publisher")
			}
		}()
	}

	market := marketdata.NewClient(cfg.MarketData, logger)

	forecasters := []services.Forecaster{
		services.NewARIMAForecaster(cfg.Forecasters.ARIMAOrder, cfg.Forecasters.ARIMAMAOrder, cfg.Forecasters.MinCloses),
		services.NewRemoteForecaster(cfg.Forecasters.LSTM, logger),
	}
	sentiment := services.NewVaderSentiment(market, cfg.MarketData.HeadlineLimit, logger)

	weights := services.NewAdaptiveWeightEngine(store, weightCache, cfg.Ensemble.KnownModels, cfg.Ensemble.Epsilon, logger)
	ensemble := services.NewEnsembleService(store, weights, indicatorFor(cfg.Ensemble), bus, cfg.Ensemble, logger)
	analysis := services.NewAnalysisService(market, sentiment, forecasters, ensemble, cfg.MarketData, cfg.Ensemble, logger)

	resolver := services.NewResolver(store, weights, bus, logger)
	scheduler := services.NewResolutionScheduler(store, market, resolver, cfg.Scheduler, logger)
	if cfg.Scheduler.Enabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	} else {
		logging.WithComponent(logger, "scheduler").Info("Resolution scheduler disabled")
	}

	notifier, err := services.NewTelegramNotifier(cfg.Telegram, logger)
	if err != nil {
		return err
	}
	if err := notifier.RegisterWebhook(ctx, cfg.Telegram.WebhookURL); err != nil {
		logger.WithError(err).Warn("Failed to register telegram webhook")
	}
	chat := services.NewTelegramService(analysis, notifier, logger)

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.SpanEnricher())

	routes := api.SetupRoutes(router, api.Dependencies{
		Config:   cfg,
		Store:    store,
		Redis:    redisHealth,
		Analyzer: analysis,
		Weights:  weights,
		Resolver: resolver,
		Sweeper:  scheduler,
		Updates:  chat,
		Bus:      bus,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.LogStartup(logger, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logging.LogShutdown(logger, cfg.Telemetry.ServiceName, "signal received")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	routes.Telegram.Wait()

	logging.WithComponent(logger, "http").Info("Server exited gracefully")
	return nil
}

// openStore selects the prediction store backend.
func openStore(cfg config.DatabaseConfig, logger *logrus.Logger) (database.PredictionStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := database.NewPostgresConnection(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		pool := database.NewTracedPool(db.Pool)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := database.Migrate(ctx, pool); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Using PostgreSQL prediction store")
		return database.NewPredictionRepository(pool), db.Close, nil
	default:
		db, err := database.NewSQLiteConnection(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("Using SQLite prediction store")
		return database.NewSQLitePredictionStore(db), func() { _ = db.Close() }, nil
	}
}

func indicatorFor(cfg config.EnsembleConfig) services.IndicatorScorer {
	if cfg.Indicator == "technical" {
		return services.NewTechnicalIndicator(services.GetDefaultTechnicalIndicatorConfig())
	}
	return services.TrendModelIndicator{Model: cfg.TrendModel}
}
