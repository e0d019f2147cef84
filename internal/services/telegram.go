package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

const (
	msgUsage         = "Please send a ticker symbol to analyze (e.g., TSLA, AAPL)"
	msgInvalidTicker = "Please send a valid ticker symbol (e.g., `analyze TSLA` or just `TSLA`)"
)

// Analyzer runs the analysis pipeline for a ticker.
type Analyzer interface {
	Analyze(ctx context.Context, ticker string) (*AnalysisResult, error)
}

// ParseTicker returns the last all-letter token of at most five characters
// in text, uppercased.
func ParseTicker(text string) (string, bool) {
	tokens := strings.Fields(strings.ToUpper(text))
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := tokens[i]
		if len([]rune(tok)) > 5 {
			continue
		}
		if isAlpha(tok) {
			return tok, true
		}
	}
	return "", false
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// TelegramService answers chat messages with analysis reports.
type TelegramService struct {
	analyzer Analyzer
	sender   MessageSender
	logger   *logrus.Logger
}

// NewTelegramService creates the chat front end.
func NewTelegramService(analyzer Analyzer, sender MessageSender, logger *logrus.Logger) *TelegramService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TelegramService{analyzer: analyzer, sender: sender, logger: logger}
}

// HandleUpdate processes one webhook update. Updates without a message are
// ignored.
func (s *TelegramService) HandleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return
	}

	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	logger := s.logger.WithField("chat_id", chatID)

	if text == "" {
		s.reply(ctx, logger, chatID, msgUsage)
		return
	}

	ticker, ok := ParseTicker(text)
	if !ok {
		s.reply(ctx, logger, chatID, msgInvalidTicker)
		return
	}

	s.reply(ctx, logger, chatID, fmt.Sprintf("🔍 Analyzing %s... Please wait.", ticker))

	result, err := s.analyzer.Analyze(ctx, ticker)
	if err != nil {
		logger.WithError(err).WithField("ticker", ticker).Error("Analysis failed")
		s.reply(ctx, logger, chatID, fmt.Sprintf("❌ Error analyzing %s: %v", ticker, err))
		return
	}

	s.reply(ctx, logger, chatID, FormatShortReport(result))
}

func (s *TelegramService) reply(ctx context.Context, logger *logrus.Entry, chatID int64, text string) {
	if err := s.sender.SendMessage(ctx, chatID, text); err != nil {
		logger.WithError(err).Warn("Failed to send telegram reply")
	}
}
