package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	"github.com/irfndi/adaptive-ensemble/internal/middleware"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func telegramRouter(h *TelegramHandler) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.POST("/api/v1/webhook/telegram", h.HandleWebhook)
	return router
}

func TestTelegramWebhook_AcknowledgesAndProcesses(t *testing.T) {
	updates := &MockUpdateHandler{}
	got := make(chan *models.Update, 1)
	var requestID string
	updates.On("HandleUpdate", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		requestID = utils.RequestIDFromContext(ctx)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		got <- args.Get(1).(*models.Update)
	})

	h := NewTelegramHandler(updates, quietLogger())
	body := `{"update_id":10,"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"analyze tsla"}}`
	w := serve(t, telegramRouter(h), http.MethodPost, "/api/v1/webhook/telegram", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	select {
	case update := <-got:
		require.NotNil(t, update.Message)
		assert.Equal(t, int64(42), update.Message.Chat.ID)
		assert.Equal(t, "analyze tsla", update.Message.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("update was not processed")
	}
	h.Wait()
	assert.NotEmpty(t, requestID)
}

func TestTelegramWebhook_InvalidPayload(t *testing.T) {
	updates := &MockUpdateHandler{}
	h := NewTelegramHandler(updates, quietLogger())

	w := serve(t, telegramRouter(h), http.MethodPost, "/api/v1/webhook/telegram", `{"update_id":`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	h.Wait()
	updates.AssertNotCalled(t, "HandleUpdate", mock.Anything, mock.Anything)
}

func TestTelegramWebhook_PanicIsContained(t *testing.T) {
	updates := &MockUpdateHandler{}
	updates.On("HandleUpdate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	})
	h := NewTelegramHandler(updates, quietLogger())

	w := serve(t, telegramRouter(h), http.MethodPost, "/api/v1/webhook/telegram", `{"update_id":11}`)

	assert.Equal(t, http.StatusOK, w.Code)
	h.Wait()
}
