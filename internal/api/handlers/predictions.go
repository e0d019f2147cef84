package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/sirupsen/logrus"
)

const maxListLimit = 500

// PredictionReader is the read side of the prediction store.
type PredictionReader interface {
	GetPrediction(ctx context.Context, id int64) (*models.Prediction, error)
	ListRecent(ctx context.Context, limit int) ([]models.Prediction, error)
}

type PredictionHandler struct {
	store  PredictionReader
	logger *logrus.Logger
}

func NewPredictionHandler(store PredictionReader, logger *logrus.Logger) *PredictionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PredictionHandler{store: store, logger: logger}
}

// ListPredictions returns the most recent predictions, newest first.
func (h *PredictionHandler) ListPredictions(c *gin.Context) {
	limit := database.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	predictions, err := h.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		h.logger.WithError(err).Error("Failed to list predictions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list predictions"})
		return
	}
	if predictions == nil {
		predictions = []models.Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions, "count": len(predictions)})
}

// GetPrediction returns a single prediction by id.
func (h *PredictionHandler) GetPrediction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	p, err := h.store.GetPrediction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Prediction not found"})
			return
		}
		_ = c.Error(err)
		h.logger.WithError(err).WithField("prediction_id", id).Error("Failed to load prediction")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load prediction"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
