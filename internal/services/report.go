package services

import (
	"fmt"
	"strings"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/shopspring/decimal"
)

const reportDisclaimer = "⚠️ _Note: This is not financial advice. DYOR & validate liquidity._\n"

func formatPrice(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

// FormatShortReport renders an analysis result as a Telegram markdown message.
func FormatShortReport(r *AnalysisResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "📊 *%s Analysis*\n\n", r.Ticker)

	if r.LastPrice != nil {
		fmt.Fprintf(&b, "💰 Current Price: %s\n\n", formatPrice(*r.LastPrice))
	}

	if r.Pattern != "" {
		fmt.Fprintf(&b, "🕯️ Pattern Detected: %s\n", r.Pattern)
	} else {
		b.WriteString("🕯️ Pattern: No significant pattern\n")
	}

	fmt.Fprintf(&b, "💬 Sentiment Score: %.3f\n", r.SentimentScore)

	b.WriteString("\n🔮 Forecasts:\n")
	for _, tf := range r.Forecasts {
		parts := make([]string, 0, len(tf.Models))
		for _, m := range tf.Models {
			value := "N/A"
			if m.Value != nil {
				value = formatPrice(*m.Value)
			}
			parts = append(parts, strings.ToUpper(m.Model)+"="+value)
		}
		fmt.Fprintf(&b, "  • %s: %s\n", tf.Timeframe, strings.Join(parts, ", "))
	}

	action := models.ActionHold
	var confidence, combined float64
	if r.Decision != nil {
		action = r.Decision.Action
		confidence = r.Decision.Confidence
		combined = r.Decision.Combined
	}

	fmt.Fprintf(&b, "\n✅ Recommendation: *%s*\n", action)
	fmt.Fprintf(&b, "📈 Confidence: %.1f%%\n", confidence*100)
	fmt.Fprintf(&b, "🎯 Combined Signal: %.4f\n\n", combined)
	b.WriteString(reportDisclaimer)

	return b.String()
}

// FormatDetailedReport extends the short report with the top sentiment reasons.
func FormatDetailedReport(r *AnalysisResult) string {
	var b strings.Builder
	b.WriteString(FormatShortReport(r))

	if len(r.SentimentReasons) == 0 {
		return b.String()
	}

	b.WriteString("\n📰 News Sentiment Details:\n")
	for i, reason := range r.SentimentReasons {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s... (Score: %.2f)\n", i+1, truncateRunes(reason.Text, 80), reason.Score)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
