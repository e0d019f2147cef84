package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func resolution(id int64, instrument, timeframe string) *models.Resolution {
	actual, absErr := 100.5, 0.5
	return &models.Resolution{
		Prediction: models.Prediction{
			ID: id, Instrument: instrument, Timeframe: timeframe, Model: "arima",
			PredictedValue: 101, ActualValue: &actual, Error: &absErr, Resolved: true,
		},
		Stat: models.ModelStat{Instrument: instrument, Timeframe: timeframe, Model: "arima", MeanAbsError: 0.5, Count: 1},
	}
}

func TestResolver_InvalidatesAndPublishes(t *testing.T) {
	store := &MockPredictionResolver{}
	invalidator := &MockInvalidator{}
	bus := &recordingBus{}
	res := resolution(7, "X", "1h")

	store.On("Resolve", mock.Anything, int64(7), 100.5).Return(res, nil)
	invalidator.On("InvalidateWeights", mock.Anything, "X", "1h").Return(nil)

	r := NewResolver(store, invalidator, bus, quietLogger())
	got, err := r.Resolve(context.Background(), 7, 100.5)

	require.NoError(t, err)
	assert.Same(t, res, got)
	invalidator.AssertExpectations(t)

	published := bus.snapshot()
	require.Len(t, published, 1)
	assert.Equal(t, events.EventPredictionResolved, published[0].event)
	assert.Same(t, res, published[0].payload)
}

func TestResolver_InvalidationFailureIsNotFatal(t *testing.T) {
	store := &MockPredictionResolver{}
	invalidator := &MockInvalidator{}
	store.On("Resolve", mock.Anything, int64(1), 100.5).Return(resolution(1, "X", "1h"), nil)
	invalidator.On("InvalidateWeights", mock.Anything, "X", "1h").Return(errors.New("redis down"))

	r := NewResolver(store, invalidator, nil, quietLogger())
	_, err := r.Resolve(context.Background(), 1, 100.5)

	assert.NoError(t, err)
}

func TestResolver_PassesStoreErrorsThrough(t *testing.T) {
	store := &MockPredictionResolver{}
	invalidator := &MockInvalidator{}
	bus := &recordingBus{}
	store.On("Resolve", mock.Anything, int64(1), 1.0).Return(nil, database.ErrAlreadyResolved)
	store.On("Resolve", mock.Anything, int64(2), 1.0).Return(nil, database.ErrNotFound)

	r := NewResolver(store, invalidator, bus, quietLogger())

	_, err := r.Resolve(context.Background(), 1, 1.0)
	assert.ErrorIs(t, err, database.ErrAlreadyResolved)
	_, err = r.Resolve(context.Background(), 2, 1.0)
	assert.ErrorIs(t, err, database.ErrNotFound)

	assert.Empty(t, bus.snapshot())
	invalidator.AssertNotCalled(t, "InvalidateWeights", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolver_WithStore(t *testing.T) {
	store := newSQLiteStore(t)

	id, err := store.RecordPrediction(context.Background(), models.NewPrediction{
		Instrument: "X", Timeframe: "1h", Model: "lstm",
		IssuedAt: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), Horizon: time.Hour, PredictedValue: 99,
	})
	require.NoError(t, err)

	r := NewResolver(store, nil, nil, quietLogger())
	res, err := r.Resolve(context.Background(), id, 100.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, *res.Prediction.Error, 1e-12)
	assert.Equal(t, int64(1), res.Stat.Count)

	_, err = r.Resolve(context.Background(), id, 100.5)
	assert.ErrorIs(t, err, database.ErrAlreadyResolved)
}
