package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/sirupsen/logrus"
)

type ModelStatsResponse struct {
	Ticker    string              `json:"ticker"`
	Timeframe string              `json:"timeframe"`
	Stats     []models.ModelStat  `json:"stats"`
	Weights   models.WeightVector `json:"weights"`
}

type ModelStatsHandler struct {
	stats   services.StatsSource
	weights services.WeightProvider
	logger  *logrus.Logger
}

func NewModelStatsHandler(stats services.StatsSource, weights services.WeightProvider, logger *logrus.Logger) *ModelStatsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ModelStatsHandler{stats: stats, weights: weights, logger: logger}
}

// GetModelStats returns the error aggregates and current weights for one
// (ticker, timeframe) key.
func (h *ModelStatsHandler) GetModelStats(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	timeframe := strings.TrimSpace(c.Param("timeframe"))
	logger := h.logger.WithFields(logrus.Fields{"ticker": ticker, "timeframe": timeframe})

	stats, err := h.stats.GetModelStats(c.Request.Context(), ticker, timeframe)
	if err != nil {
		_ = c.Error(err)
		logger.WithError(err).Error("Failed to load model stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load model stats"})
		return
	}

	weights, err := h.weights.ComputeWeights(c.Request.Context(), ticker, timeframe)
	if err != nil {
		_ = c.Error(err)
		logger.WithError(err).Error("Failed to compute weights")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute weights"})
		return
	}

	if stats == nil {
		stats = []models.ModelStat{}
	}
	c.JSON(http.StatusOK, ModelStatsResponse{
		Ticker:    ticker,
		Timeframe: timeframe,
		Stats:     stats,
		Weights:   weights,
	})
}
