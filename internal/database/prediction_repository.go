package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	// Begin starts a transaction.
	Begin(ctx context.Context) (pgx.Tx, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

const predictionColumns = `id, instrument, timeframe, model, issued_at, horizon_seconds, predicted_value,
	actual_value, error, resolved, resolved_at`

// PredictionRepository implements PredictionStore on PostgreSQL.
type PredictionRepository struct {
	pool DatabasePool
	now  func() time.Time
}

// NewPredictionRepository creates a new prediction repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*PredictionRepository: The initialized repository.
func NewPredictionRepository(pool DatabasePool) *PredictionRepository {
	return &PredictionRepository{
		pool: pool,
		now:  time.Now,
	}
}

// RecordPrediction appends a forecast to the ledger.
//
// Parameters:
//
//	ctx: Context.
//	p: Forecast to record. Validated before any write.
//
// Returns:
//
//	int64: The assigned prediction id.
//	error: ValidationError or a storage error.
func (r *PredictionRepository) RecordPrediction(ctx context.Context, p models.NewPrediction) (int64, error) {
	if err := validateNewPrediction(p); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO predictions (instrument, timeframe, model, issued_at, horizon_seconds, predicted_value)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		p.Instrument, p.Timeframe, p.Model, p.IssuedAt.UTC(), horizonSeconds(p.Horizon), p.PredictedValue,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert prediction: %w", err)
	}
	return id, nil
}

// Resolve closes a prediction against its realized value and folds the error
// into the model aggregate in the same transaction.
//
// Returns:
//
//	*models.Resolution: The resolved prediction and the updated aggregate.
//	error: ErrNotFound, ErrAlreadyResolved or a storage error.
func (r *PredictionRepository) Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error) {
	if err := utils.RequireFinite("actual_value", actual); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction %d: %w", id, err)
	}
	if p.Resolved {
		return nil, ErrAlreadyResolved
	}

	absErr := math.Abs(actual - p.PredictedValue)
	resolvedAt := r.now().UTC()

	tag, err := tx.Exec(ctx, `
		UPDATE predictions SET actual_value = $2, error = $3, resolved = TRUE, resolved_at = $4
		WHERE id = $1 AND resolved = FALSE`,
		id, actual, absErr, resolvedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prediction %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAlreadyResolved
	}

	stat := models.ModelStat{Instrument: p.Instrument, Timeframe: p.Timeframe, Model: p.Model}
	err = tx.QueryRow(ctx, `
		INSERT INTO model_stats (instrument, timeframe, model, mean_abs_error, count, last_updated)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (instrument, timeframe, model) DO UPDATE SET
			mean_abs_error = (model_stats.mean_abs_error * model_stats.count + EXCLUDED.mean_abs_error) / (model_stats.count + 1),
			count = model_stats.count + 1,
			last_updated = EXCLUDED.last_updated
		RETURNING mean_abs_error, count, last_updated`,
		p.Instrument, p.Timeframe, p.Model, absErr, resolvedAt,
	).Scan(&stat.MeanAbsError, &stat.Count, &stat.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to update model stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}
	committed = true

	p.ActualValue = &actual
	p.Error = &absErr
	p.Resolved = true
	p.ResolvedAt = &resolvedAt

	return &models.Resolution{Prediction: *p, Stat: stat}, nil
}

// GetPrediction returns a single prediction by id.
func (r *PredictionRepository) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction %d: %w", id, err)
	}
	return p, nil
}

// GetModelStats returns the aggregates of every model for a key, ordered by
// model. An unknown key yields an empty slice.
func (r *PredictionRepository) GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error) {
	query := `
		SELECT instrument, timeframe, model, mean_abs_error, count, last_updated
		FROM model_stats
		WHERE instrument = $1 AND timeframe = $2
		ORDER BY model`

	rows, err := r.pool.Query(ctx, query, instrument, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer rows.Close()

	stats := []models.ModelStat{}
	for rows.Next() {
		var st models.ModelStat
		if err := rows.Scan(&st.Instrument, &st.Timeframe, &st.Model, &st.MeanAbsError, &st.Count, &st.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan model stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model stats: %w", err)
	}
	return stats, nil
}

// ListUnresolved returns the unresolved predictions whose horizon elapsed at
// now, oldest first.
func (r *PredictionRepository) ListUnresolved(ctx context.Context, now time.Time) ([]models.Prediction, error) {
	query := `SELECT ` + predictionColumns + `
		FROM predictions
		WHERE resolved = FALSE AND issued_at + horizon_seconds * INTERVAL '1 second' <= $1
		ORDER BY issued_at, id`
	return r.queryPredictions(ctx, query, now.UTC())
}

// ListRecent returns the latest predictions, newest first.
func (r *PredictionRepository) ListRecent(ctx context.Context, limit int) ([]models.Prediction, error) {
	query := `SELECT ` + predictionColumns + `
		FROM predictions
		ORDER BY issued_at DESC, id DESC
		LIMIT $1`
	return r.queryPredictions(ctx, query, normalizeLimit(limit))
}

func (r *PredictionRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PredictionRepository) queryPredictions(ctx context.Context, query string, args ...interface{}) ([]models.Prediction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	out := []models.Prediction{}
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate predictions: %w", err)
	}
	return out, nil
}

func scanPrediction(row pgx.Row) (*models.Prediction, error) {
	var (
		p       models.Prediction
		horizon int64
	)
	if err := row.Scan(&p.ID, &p.Instrument, &p.Timeframe, &p.Model, &p.IssuedAt, &horizon, &p.PredictedValue,
		&p.ActualValue, &p.Error, &p.Resolved, &p.ResolvedAt); err != nil {
		return nil, err
	}
	p.Horizon = horizonFromSeconds(horizon)
	return &p, nil
}
