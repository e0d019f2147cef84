package services

import (
	"math"

	"github.com/irfndi/adaptive-ensemble/internal/models"
)

// Candlestick pattern names reported by DetectPattern.
const (
	PatternBullishEngulfing = "Bullish Engulfing"
	PatternBearishEngulfing = "Bearish Engulfing"
	PatternDoji             = "Doji"
	PatternHammer           = "Hammer"
	PatternShootingStar     = "Shooting Star"
	PatternMorningStar      = "Morning Star"
)

func body(c models.Candle) float64 { return math.Abs(c.Close - c.Open) }

func bullish(c models.Candle) bool { return c.Close > c.Open }

func bearish(c models.Candle) bool { return c.Close < c.Open }

func upperShadow(c models.Candle) float64 { return c.High - math.Max(c.Open, c.Close) }

func lowerShadow(c models.Candle) float64 { return math.Min(c.Open, c.Close) - c.Low }

func isDoji(c models.Candle) bool {
	r := c.High - c.Low
	if r <= 0 {
		r = 1e-9
	}
	return body(c)/r < 0.1
}

// DetectPattern names the candlestick pattern formed by the last candles, or
// returns "" when none applies. At least two candles are required.
func DetectPattern(candles []models.Candle) string {
	if len(candles) < 2 {
		return ""
	}
	if len(candles) > 3 {
		candles = candles[len(candles)-3:]
	}

	curr := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	switch {
	case bearish(prev) && bullish(curr) && curr.Close > prev.Open && curr.Open < prev.Close:
		return PatternBullishEngulfing
	case bullish(prev) && bearish(curr) && curr.Open > prev.Close && curr.Close < prev.Open:
		return PatternBearishEngulfing
	case isDoji(curr):
		return PatternDoji
	case lowerShadow(curr) > 2*body(curr) && upperShadow(curr) < body(curr):
		return PatternHammer
	case upperShadow(curr) > 2*body(curr) && lowerShadow(curr) < body(curr):
		return PatternShootingStar
	}

	if len(candles) == 3 {
		first := candles[0]
		if bearish(first) && isDoji(prev) && bullish(curr) && curr.Close > (first.Open+first.Close)/2 {
			return PatternMorningStar
		}
	}
	return ""
}
