package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/sirupsen/logrus"
)

type AnalyzeRequest struct {
	Ticker string `json:"ticker"`
}

type AnalysisHandler struct {
	analyzer services.Analyzer
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewAnalysisHandler creates the handler. A positive timeout bounds each
// analysis run.
func NewAnalysisHandler(analyzer services.Analyzer, timeout time.Duration, logger *logrus.Logger) *AnalysisHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalysisHandler{analyzer: analyzer, timeout: timeout, logger: logger}
}

// Analyze runs the full pipeline for the posted ticker. Appending
// ?format=report also returns the rendered chat report.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.Ticker = strings.TrimSpace(req.Ticker)
	if req.Ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ticker is required"})
		return
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.analyzer.Analyze(ctx, req.Ticker)
	if err != nil {
		if utils.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			_ = c.Error(err)
			h.logger.WithError(err).WithField("ticker", req.Ticker).Warn("Analysis request timed out")
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Analysis timed out"})
			return
		}
		_ = c.Error(err)
		h.logger.WithError(err).WithField("ticker", req.Ticker).Error("Analysis request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Analysis failed"})
		return
	}

	if c.Query("format") == "report" {
		c.JSON(http.StatusOK, gin.H{
			"result": result,
			"report": services.FormatDetailedReport(result),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
