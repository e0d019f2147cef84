package services

import (
	"context"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/irfndi/adaptive-ensemble/internal/models"
)

// TechnicalIndicatorConfig holds the periods used by TechnicalIndicator.
type TechnicalIndicatorConfig struct {
	FastPeriod int     `json:"fast_period"`
	SlowPeriod int     `json:"slow_period"`
	RSIPeriod  int     `json:"rsi_period"`
	Overbought float64 `json:"overbought"`
	Oversold   float64 `json:"oversold"`
	// Damping scales the score when RSI sits at an extreme in the trend direction.
	Damping float64 `json:"damping"`
}

// GetDefaultTechnicalIndicatorConfig returns the standard 12/26 EMA and RSI 14 setup.
func GetDefaultTechnicalIndicatorConfig() TechnicalIndicatorConfig {
	return TechnicalIndicatorConfig{
		FastPeriod: 12,
		SlowPeriod: 26,
		RSIPeriod:  14,
		Overbought: 70,
		Oversold:   30,
		Damping:    0.5,
	}
}

// TechnicalIndicator scores the reference candles with an EMA crossover
// spread, damped when RSI says the move is already stretched.
type TechnicalIndicator struct {
	config TechnicalIndicatorConfig
}

// NewTechnicalIndicator creates a technical indicator scorer.
func NewTechnicalIndicator(config TechnicalIndicatorConfig) *TechnicalIndicator {
	def := GetDefaultTechnicalIndicatorConfig()
	if config.FastPeriod <= 0 {
		config.FastPeriod = def.FastPeriod
	}
	if config.SlowPeriod <= config.FastPeriod {
		config.SlowPeriod = def.SlowPeriod
	}
	if config.RSIPeriod <= 0 {
		config.RSIPeriod = def.RSIPeriod
	}
	if config.Overbought == 0 {
		config.Overbought = def.Overbought
	}
	if config.Oversold == 0 {
		config.Oversold = def.Oversold
	}
	if config.Damping <= 0 {
		config.Damping = def.Damping
	}
	return &TechnicalIndicator{config: config}
}

// Score returns (emaFast - emaSlow) / emaSlow over the reference closes, or 0
// when there are not enough candles.
func (t *TechnicalIndicator) Score(_ context.Context, in IndicatorInput) (float64, error) {
	closes := models.Closes(in.Candles[in.ReferenceTimeframe])
	if len(closes) <= t.config.SlowPeriod || len(closes) <= t.config.RSIPeriod {
		return 0, nil
	}

	fast, ok := lastValue(t.calculateEMA(closes, t.config.FastPeriod))
	if !ok {
		return 0, nil
	}
	slow, ok := lastValue(t.calculateEMA(closes, t.config.SlowPeriod))
	if !ok || slow == 0 {
		return 0, nil
	}

	score := (fast - slow) / slow

	if rsi, ok := lastValue(t.calculateRSI(closes, t.config.RSIPeriod)); ok {
		if (score > 0 && rsi > t.config.Overbought) || (score < 0 && rsi < t.config.Oversold) {
			score *= t.config.Damping
		}
	}

	return score, nil
}

func (t *TechnicalIndicator) calculateEMA(prices []float64, period int) []float64 {
	emaIndicator := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(emaIndicator.Compute(helper.SliceToChan(prices)))
}

func (t *TechnicalIndicator) calculateRSI(prices []float64, period int) []float64 {
	rsiIndicator := momentum.NewRsiWithPeriod[float64](period)
	return helper.ChanToSlice(rsiIndicator.Compute(helper.SliceToChan(prices)))
}

func lastValue(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
