package events

import (
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/models"
)

// Event enumerates the topics published inside the service.
type Event string

const (
	EventDecisionMade       Event = "decision.made"
	EventPredictionResolved Event = "prediction.resolved"
)

// All lists every topic, in a stable order.
var All = []Event{EventDecisionMade, EventPredictionResolved}

// Envelope is the wire shape of an event for external sinks.
type Envelope struct {
	Type      Event       `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEnvelope wraps payload for topic e.
func NewEnvelope(e Event, payload interface{}) Envelope {
	return Envelope{Type: e, Data: payload, Timestamp: time.Now().UTC()}
}

// InstrumentOf extracts the instrument a payload concerns, or "".
func InstrumentOf(payload interface{}) string {
	switch p := payload.(type) {
	case *models.Decision:
		return p.Instrument
	case models.Decision:
		return p.Instrument
	case *models.Resolution:
		return p.Prediction.Instrument
	case models.Resolution:
		return p.Prediction.Instrument
	default:
		return ""
	}
}
