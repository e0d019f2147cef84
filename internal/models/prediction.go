package models

import (
	"encoding/json"
	"time"
)

// Prediction is one forecast issued by a model. It is created unresolved and
// mutated exactly once when its horizon elapses.
type Prediction struct {
	ID             int64         `json:"id" db:"id"`
	Instrument     string        `json:"ticker" db:"instrument"`
	Timeframe      string        `json:"timeframe" db:"timeframe"`
	Model          string        `json:"model" db:"model"`
	IssuedAt       time.Time     `json:"predicted_at" db:"issued_at"`
	Horizon        time.Duration `json:"-" db:"horizon_seconds"`
	PredictedValue float64       `json:"predicted_price" db:"predicted_value"`
	ActualValue    *float64      `json:"actual_price" db:"actual_value"`
	Error          *float64      `json:"error" db:"error"`
	Resolved       bool          `json:"resolved" db:"resolved"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// MaturesAt returns the instant after which the prediction can be compared
// against a realized price.
func (p *Prediction) MaturesAt() time.Time {
	return p.IssuedAt.Add(p.Horizon)
}

// Matured reports whether the horizon has elapsed at now.
func (p *Prediction) Matured(now time.Time) bool {
	return !p.MaturesAt().After(now)
}

// MarshalJSON adds the horizon in minutes, which is how clients display it.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type alias Prediction
	return json.Marshal(struct {
		alias
		HorizonMinutes float64 `json:"horizon_minutes"`
	}{
		alias:          alias(p),
		HorizonMinutes: p.Horizon.Minutes(),
	})
}

// NewPrediction carries the inputs of PredictionStore.RecordPrediction.
type NewPrediction struct {
	Instrument     string
	Timeframe      string
	Model          string
	IssuedAt       time.Time
	Horizon        time.Duration
	PredictedValue float64
}

// ModelStat is the running error aggregate for one
// (instrument, timeframe, model) key.
type ModelStat struct {
	Instrument   string    `json:"ticker" db:"instrument"`
	Timeframe    string    `json:"timeframe" db:"timeframe"`
	Model        string    `json:"model" db:"model"`
	MeanAbsError float64   `json:"mae" db:"mean_abs_error"`
	Count        int64     `json:"count" db:"count"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}

// Resolution is what a successful resolve produced.
type Resolution struct {
	Prediction Prediction `json:"prediction"`
	Stat       ModelStat  `json:"stat"`
}

// WeightVector maps model identifiers to non-negative weights summing to 1.
type WeightVector map[string]float64

// Get returns the weight for model, or fallback when the model is absent.
func (w WeightVector) Get(model string, fallback float64) float64 {
	if v, ok := w[model]; ok {
		return v
	}
	return fallback
}

// Sum returns the total weight.
func (w WeightVector) Sum() float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}
