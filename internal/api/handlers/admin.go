package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/middleware"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/sirupsen/logrus"
)

// Sweeper runs one resolution pass on demand.
type Sweeper interface {
	RunSweep(ctx context.Context) services.SweepResult
}

type ResolveRequest struct {
	Actual *float64 `json:"actual"`
}

// AdminHandler serves the operator endpoints. The router mounts it behind
// JWT authentication.
type AdminHandler struct {
	resolver services.PredictionResolver
	sweeper  Sweeper
	logger   *logrus.Logger
}

func NewAdminHandler(resolver services.PredictionResolver, sweeper Sweeper, logger *logrus.Logger) *AdminHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AdminHandler{resolver: resolver, sweeper: sweeper, logger: logger}
}

// ResolvePrediction records the realized price for a prediction.
func (h *AdminHandler) ResolvePrediction(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Actual == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actual is required"})
		return
	}
	if math.IsNaN(*req.Actual) || math.IsInf(*req.Actual, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actual must be finite"})
		return
	}

	resolution, err := h.resolver.Resolve(c.Request.Context(), id, *req.Actual)
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Prediction not found"})
	case errors.Is(err, database.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "Prediction already resolved"})
	case err != nil:
		_ = c.Error(err)
		h.logger.WithError(err).WithField("prediction_id", id).Error("Manual resolve failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve prediction"})
	default:
		h.logger.WithFields(logrus.Fields{
			"prediction_id": id,
			"operator":      c.GetString(middleware.ContextKeyOperator),
		}).Info("Prediction resolved by operator")
		c.JSON(http.StatusOK, resolution)
	}
}

// RunSweep triggers an immediate resolution sweep.
func (h *AdminHandler) RunSweep(c *gin.Context) {
	result := h.sweeper.RunSweep(c.Request.Context())
	c.JSON(http.StatusOK, result)
}
