package services

import (
	"context"

	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/sirupsen/logrus"
)

// PredictionResolver is the store operation that closes a prediction.
type PredictionResolver interface {
	Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error)
}

// WeightInvalidator drops cached weights for a key.
type WeightInvalidator interface {
	InvalidateWeights(ctx context.Context, instrument, timeframe string) error
}

// Resolver closes predictions against realized prices and propagates the
// result to the weight cache and the event bus.
type Resolver struct {
	store       PredictionResolver
	invalidator WeightInvalidator
	bus         EventPublisher
	logger      *logrus.Logger
}

// NewResolver creates a resolver. invalidator and bus may be nil.
func NewResolver(store PredictionResolver, invalidator WeightInvalidator, bus EventPublisher, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		store:       store,
		invalidator: invalidator,
		bus:         bus,
		logger:      logger,
	}
}

// Resolve records actual for prediction id. Store errors, including
// database.ErrNotFound and database.ErrAlreadyResolved, are returned as is.
func (r *Resolver) Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error) {
	res, err := r.store.Resolve(ctx, id, actual)
	if err != nil {
		return nil, err
	}

	p := res.Prediction
	if r.invalidator != nil {
		if err := r.invalidator.InvalidateWeights(ctx, p.Instrument, p.Timeframe); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"instrument": p.Instrument,
				"timeframe":  p.Timeframe,
			}).Warn("Failed to invalidate cached weights")
		}
	}

	fields := logrus.Fields{
		"prediction_id": p.ID,
		"instrument":    p.Instrument,
		"timeframe":     p.Timeframe,
		"model":         p.Model,
		"mae":           res.Stat.MeanAbsError,
		"count":         res.Stat.Count,
	}
	if p.Error != nil {
		fields["abs_error"] = *p.Error
	}
	r.logger.WithFields(fields).Info("Prediction resolved")

	if r.bus != nil {
		r.bus.Publish(events.EventPredictionResolved, res)
	}
	return res, nil
}
