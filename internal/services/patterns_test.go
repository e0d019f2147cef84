package services

import (
	"testing"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/stretchr/testify/assert"
)

func ohlc(o, h, l, c float64) models.Candle {
	return models.Candle{Open: o, High: h, Low: l, Close: c}
}

func TestDetectPattern(t *testing.T) {
	tests := []struct {
		name    string
		candles []models.Candle
		want    string
	}{
		{"too few", []models.Candle{ohlc(1, 2, 0, 1.5)}, ""},
		{"bullish engulfing", []models.Candle{ohlc(10, 10.5, 8.5, 9), ohlc(8.8, 11, 8.7, 10.5)}, PatternBullishEngulfing},
		{"bearish engulfing", []models.Candle{ohlc(9, 10.5, 8.5, 10), ohlc(10.2, 10.3, 8.5, 8.8)}, PatternBearishEngulfing},
		{"doji", []models.Candle{ohlc(10, 11, 9, 10.5), ohlc(10, 11, 9, 10.05)}, PatternDoji},
		{"flat candle is doji", []models.Candle{ohlc(10, 11, 9, 10.5), ohlc(10, 10, 10, 10)}, PatternDoji},
		{"hammer", []models.Candle{ohlc(10, 10.5, 9.5, 10.2), ohlc(10, 10.6, 8, 10.5)}, PatternHammer},
		{"shooting star", []models.Candle{ohlc(10, 10.5, 9.5, 10.2), ohlc(10.5, 12.5, 9.9, 10)}, PatternShootingStar},
		{"morning star", []models.Candle{
			ohlc(12, 12.2, 9.8, 10),
			ohlc(9.5, 10, 9, 9.52),
			ohlc(9.6, 11.6, 9.5, 11.5),
		}, PatternMorningStar},
		{"nothing", []models.Candle{ohlc(10, 11, 9.5, 10.8), ohlc(10.8, 11.6, 10.6, 11.5)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPattern(tt.candles))
		})
	}
}

func TestDetectPattern_UsesLastThree(t *testing.T) {
	candles := []models.Candle{
		ohlc(1, 100, 0, 99),
		ohlc(10, 10.5, 8.5, 9),
		ohlc(8.8, 11, 8.7, 10.5),
	}
	older := append([]models.Candle{ohlc(5, 6, 4, 5.5)}, candles...)

	assert.Equal(t, DetectPattern(candles), DetectPattern(older))
}
