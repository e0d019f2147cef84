package database

import (
	"context"
	"errors"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
)

var (
	// ErrNotFound is returned when a prediction id does not exist.
	ErrNotFound = errors.New("prediction not found")
	// ErrAlreadyResolved is returned when a prediction was resolved before.
	ErrAlreadyResolved = errors.New("prediction already resolved")
)

// DefaultRecentLimit is used by ListRecent when the caller passes no limit.
const DefaultRecentLimit = 20

// PredictionStore is the ledger of issued forecasts and the authoritative
// source of per-model error aggregates. All mutation of predictions and
// model_stats goes through it.
type PredictionStore interface {
	RecordPrediction(ctx context.Context, p models.NewPrediction) (int64, error)
	Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error)
	GetPrediction(ctx context.Context, id int64) (*models.Prediction, error)
	GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error)
	ListUnresolved(ctx context.Context, now time.Time) ([]models.Prediction, error)
	ListRecent(ctx context.Context, limit int) ([]models.Prediction, error)
	HealthCheck(ctx context.Context) error
}

// validateNewPrediction rejects input before any write is attempted.
func validateNewPrediction(p models.NewPrediction) error {
	if err := utils.RequireNonEmpty("instrument", p.Instrument); err != nil {
		return err
	}
	if err := utils.RequireNonEmpty("timeframe", p.Timeframe); err != nil {
		return err
	}
	if err := utils.RequireNonEmpty("model", p.Model); err != nil {
		return err
	}
	if err := utils.RequireFinite("predicted_value", p.PredictedValue); err != nil {
		return err
	}
	// horizons are stored as whole seconds
	if p.Horizon < time.Second || p.Horizon%time.Second != 0 {
		return utils.NewValidationErrorf("horizon", "must be a positive whole number of seconds, got %s", p.Horizon)
	}
	if p.IssuedAt.IsZero() {
		return utils.NewValidationError("issued_at", "must be set")
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

func horizonSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func horizonFromSeconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
