package models

import "time"

// Action is the categorical output of an ensemble pass.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Forecast is a single model's point forecast for one timeframe.
type Forecast struct {
	Model     string  `json:"model"`
	Timeframe string  `json:"timeframe"`
	LastPrice float64 `json:"last_price"`
	Predicted float64 `json:"predicted"`
}

// Return is the fractional change the forecast implies over the last price.
func (f Forecast) Return() float64 {
	if f.LastPrice == 0 {
		return 0
	}
	return (f.Predicted - f.LastPrice) / f.LastPrice
}

// RecordedForecast is a forecast that has been written to the ledger. Only
// recorded forecasts contribute to the numeric score.
type RecordedForecast struct {
	PredictionID int64   `json:"prediction_id"`
	Model        string  `json:"model"`
	Timeframe    string  `json:"timeframe"`
	Predicted    float64 `json:"predicted"`
	Return       float64 `json:"return"`
}

// Decision is the ephemeral result of one ensemble pass.
type Decision struct {
	ID             string             `json:"id"`
	Instrument     string             `json:"ticker"`
	Action         Action             `json:"action"`
	Confidence     float64            `json:"confidence"`
	Combined       float64            `json:"combined"`
	IndicatorScore float64            `json:"indicator_score"`
	NumericScore   float64            `json:"numeric_score"`
	SentimentScore float64            `json:"sentiment_score"`
	Weights        WeightVector       `json:"weights"`
	Recorded       []RecordedForecast `json:"recorded"`
	DecidedAt      time.Time          `json:"decided_at"`
}
