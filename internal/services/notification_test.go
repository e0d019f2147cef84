package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type telegramCall struct {
	method string
	form   map[string]string
}

func newFakeTelegram(t *testing.T) (*httptest.Server, func() []telegramCall) {
	t.Helper()
	var mu sync.Mutex
	var calls []telegramCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		form := map[string]string{}
		for k, v := range r.Form {
			form[k] = v[0]
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		mu.Lock()
		calls = append(calls, telegramCall{method: method, form: form})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "setWebhook":
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, func() []telegramCall {
		mu.Lock()
		defer mu.Unlock()
		out := make([]telegramCall, len(calls))
		copy(out, calls)
		return out
	}
}

func TestTelegramNotifier_DisabledWithoutToken(t *testing.T) {
	n, err := NewTelegramNotifier(config.TelegramConfig{}, quietLogger())
	require.NoError(t, err)

	assert.False(t, n.Enabled())
	assert.NoError(t, n.SendMessage(context.Background(), 1, "hello"))
	assert.NoError(t, n.RegisterWebhook(context.Background(), "https://example.com/hook"))
}

func TestTelegramNotifier_SendMessage(t *testing.T) {
	srv, calls := newFakeTelegram(t)

	n, err := NewTelegramNotifier(config.TelegramConfig{BotToken: "123:abc"}, quietLogger(), bot.WithServerURL(srv.URL))
	require.NoError(t, err)
	require.True(t, n.Enabled())

	require.NoError(t, n.SendMessage(context.Background(), 42, "📊 *TSLA Analysis*"))

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "sendMessage", got[0].method)
	assert.Equal(t, "42", got[0].form["chat_id"])
	assert.Equal(t, "Markdown", got[0].form["parse_mode"])
	assert.Equal(t, "📊 *TSLA Analysis*", got[0].form["text"])
}

func TestTelegramNotifier_RegisterWebhook(t *testing.T) {
	srv, calls := newFakeTelegram(t)

	n, err := NewTelegramNotifier(config.TelegramConfig{BotToken: "123:abc"}, quietLogger(), bot.WithServerURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, n.RegisterWebhook(context.Background(), "https://example.com/api/v1/webhook/telegram"))

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, "setWebhook", got[0].method)
	assert.Equal(t, "https://example.com/api/v1/webhook/telegram", got[0].form["url"])
}
