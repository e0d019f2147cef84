package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/api/handlers"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/middleware"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators the HTTP surface is built from. Redis
// may be nil when the weight cache is disabled.
type Dependencies struct {
	Config   *config.Config
	Store    database.PredictionStore
	Redis    handlers.HealthChecker
	Analyzer services.Analyzer
	Weights  services.WeightProvider
	Resolver services.PredictionResolver
	Sweeper  handlers.Sweeper
	Updates  handlers.UpdateHandler
	Bus      handlers.EventSubscriber
	Logger   *logrus.Logger
}

// Routes exposes handlers that need attention at shutdown.
type Routes struct {
	Telegram *handlers.TelegramHandler
}

// SetupRoutes mounts every endpoint on router. The operator group is only
// mounted when a JWT secret is configured.
func SetupRoutes(router *gin.Engine, deps Dependencies) *Routes {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Redis, deps.Config.Telemetry.ServiceVersion, logger)
	analysisHandler := handlers.NewAnalysisHandler(deps.Analyzer, deps.Config.Server.AnalyzeTimeout, logger)
	predictionHandler := handlers.NewPredictionHandler(deps.Store, logger)
	statsHandler := handlers.NewModelStatsHandler(deps.Store, deps.Weights, logger)
	telegramHandler := handlers.NewTelegramHandler(deps.Updates, logger)
	streamHandler := handlers.NewStreamHandler(deps.Bus, deps.Config.Server.AllowedOrigins, logger)

	router.GET("/health", healthHandler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "Adaptive ensemble API - Ready"})
		})

		v1.POST("/analyze", analysisHandler.Analyze)

		predictions := v1.Group("/predictions")
		{
			predictions.GET("", predictionHandler.ListPredictions)
			predictions.GET("/:id", predictionHandler.GetPrediction)
		}

		v1.GET("/model-stats/:ticker/:timeframe", statsHandler.GetModelStats)

		v1.POST("/webhook/telegram", telegramHandler.HandleWebhook)

		v1.GET("/stream", streamHandler.Stream)

		if secret := deps.Config.Security.JWTSecret; secret != "" {
			adminHandler := handlers.NewAdminHandler(deps.Resolver, deps.Sweeper, logger)
			auth := middleware.NewAuthMiddleware(secret)

			admin := v1.Group("/admin")
			admin.Use(auth.RequireAuth())
			{
				admin.POST("/predictions/:id/resolve", adminHandler.ResolvePrediction)
				admin.POST("/sweep", adminHandler.RunSweep)
			}
		} else {
			logger.Warn("security.jwt_secret not set, operator endpoints are disabled")
		}
	}

	return &Routes{Telegram: telegramHandler}
}
