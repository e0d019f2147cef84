package models

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes extracts the close series of candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Headline is a news item used for sentiment scoring.
type Headline struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Publisher string    `json:"publisher,omitempty"`
	Published time.Time `json:"published"`
}

// Text joins title and summary the way they are scored.
func (h Headline) Text() string {
	if h.Summary == "" {
		return h.Title
	}
	return h.Title + ". " + h.Summary
}
