package services

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/sirupsen/logrus"
)

// MessageSender delivers chat replies.
type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// TelegramNotifier sends markdown messages through the Telegram Bot API.
// Without a bot token every send is a logged no-op.
type TelegramNotifier struct {
	bot    *bot.Bot
	logger *logrus.Logger
}

// NewTelegramNotifier creates a notifier for cfg.BotToken. Extra options are
// passed to the bot client.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *logrus.Logger, opts ...bot.Option) (*TelegramNotifier, error) {
	if logger == nil {
		logger = logrus.New()
	}
	n := &TelegramNotifier{logger: logger}
	if cfg.BotToken == "" {
		logger.Warn("Telegram bot token not set, replies are disabled")
		return n, nil
	}

	options := append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(cfg.BotToken, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	n.bot = b
	return n, nil
}

// Enabled reports whether a bot client is configured.
func (n *TelegramNotifier) Enabled() bool {
	return n.bot != nil
}

// SendMessage sends text to chatID using legacy Markdown formatting.
func (n *TelegramNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	if n.bot == nil {
		n.logger.WithField("chat_id", chatID).Debug("Telegram disabled, dropping message")
		return nil
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// RegisterWebhook points the bot's updates at url.
func (n *TelegramNotifier) RegisterWebhook(ctx context.Context, url string) error {
	if n.bot == nil || url == "" {
		return nil
	}
	ok, err := n.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: url})
	if err != nil {
		return fmt.Errorf("failed to set telegram webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("telegram rejected webhook %s", url)
	}
	n.logger.WithField("url", url).Info("Telegram webhook registered")
	return nil
}
