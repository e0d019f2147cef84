package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

const updateTimeout = 2 * time.Minute

// UpdateHandler processes a single Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update *models.Update)
}

// TelegramHandler acknowledges webhook calls immediately and processes the
// update in the background, since analysis can outlast Telegram's timeout.
type TelegramHandler struct {
	updates UpdateHandler
	logger  *logrus.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewTelegramHandler(updates UpdateHandler, logger *logrus.Logger) *TelegramHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TelegramHandler{updates: updates, logger: logger, timeout: updateTimeout}
}

// HandleWebhook binds the update and answers {"ok": true}.
func (h *TelegramHandler) HandleWebhook(c *gin.Context) {
	var update models.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.WithError(err).Warn("Invalid telegram update payload")
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "Invalid update"})
		return
	}

	// Keep request-scoped values such as the request id, drop cancellation.
	ctx := context.WithoutCancel(c.Request.Context())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.logger.WithField("panic", r).Error("Telegram update handler panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		h.updates.HandleUpdate(ctx, &update)
	}()

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Wait blocks until every in-flight update has been processed.
func (h *TelegramHandler) Wait() {
	h.wg.Wait()
}
