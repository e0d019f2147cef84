package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

const memoryPath = ":memory:"

// SQLiteDB wraps the embedded database handle.
type SQLiteDB struct {
	DB *sql.DB
}

// NewSQLiteConnection opens (and creates if needed) the SQLite database at
// path and applies the schema.
func NewSQLiteConnection(path string) (*SQLiteDB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}

	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	if path != memoryPath {
		db.SetConnMaxLifetime(time.Hour)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	logrus.WithField("path", path).Info("Successfully opened SQLite prediction store")

	return &SQLiteDB{DB: db}, nil
}

// Close releases the underlying handle.
func (d *SQLiteDB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// SQLitePredictionStore implements PredictionStore on an embedded database.
type SQLitePredictionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLitePredictionStore creates a store over an opened SQLite database.
func NewSQLitePredictionStore(db *SQLiteDB) *SQLitePredictionStore {
	return &SQLitePredictionStore{db: db.DB, now: time.Now}
}

func (s *SQLitePredictionStore) RecordPrediction(ctx context.Context, p models.NewPrediction) (int64, error) {
	if err := validateNewPrediction(p); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO predictions (instrument, timeframe, model, issued_at, horizon_seconds, predicted_value)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.Instrument, p.Timeframe, p.Model, p.IssuedAt.UTC().UnixMilli(), horizonSeconds(p.Horizon), p.PredictedValue,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert prediction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read prediction id: %w", err)
	}
	return id, nil
}

func (s *SQLitePredictionStore) Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error) {
	if err := utils.RequireFinite("actual_value", actual); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sqlitePredictionColumns+` FROM predictions WHERE id = ?`, id)
	p, err := scanSQLitePrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load prediction %d: %w", id, err)
	}
	if p.Resolved {
		return nil, ErrAlreadyResolved
	}

	absErr := math.Abs(actual - p.PredictedValue)
	resolvedAt := s.now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE predictions SET actual_value = ?, error = ?, resolved = 1, resolved_at = ?
		 WHERE id = ? AND resolved = 0`,
		actual, absErr, resolvedAt.UnixMilli(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve prediction %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrAlreadyResolved
	}

	stat := models.ModelStat{Instrument: p.Instrument, Timeframe: p.Timeframe, Model: p.Model}
	var lastUpdated int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO model_stats (instrument, timeframe, model, mean_abs_error, count, last_updated)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT (instrument, timeframe, model) DO UPDATE SET
		     mean_abs_error = (model_stats.mean_abs_error * model_stats.count + excluded.mean_abs_error) / (model_stats.count + 1),
		     count = model_stats.count + 1,
		     last_updated = excluded.last_updated
		 RETURNING mean_abs_error, count, last_updated`,
		p.Instrument, p.Timeframe, p.Model, absErr, resolvedAt.UnixMilli(),
	).Scan(&stat.MeanAbsError, &stat.Count, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to update model stats: %w", err)
	}
	stat.LastUpdated = time.UnixMilli(lastUpdated).UTC()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit resolution: %w", err)
	}

	p.ActualValue = &actual
	p.Error = &absErr
	p.Resolved = true
	p.ResolvedAt = &resolvedAt

	return &models.Resolution{Prediction: *p, Stat: stat}, nil
}

func (s *SQLitePredictionStore) GetPrediction(ctx context.Context, id int64) (*models.Prediction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlitePredictionColumns+` FROM predictions WHERE id = ?`, id)
	p, err := scanSQLitePrediction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction %d: %w", id, err)
	}
	return p, nil
}

func (s *SQLitePredictionStore) GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instrument, timeframe, model, mean_abs_error, count, last_updated
		 FROM model_stats WHERE instrument = ? AND timeframe = ? ORDER BY model`,
		instrument, timeframe,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer rows.Close()

	stats := []models.ModelStat{}
	for rows.Next() {
		var (
			st          models.ModelStat
			lastUpdated int64
		)
		if err := rows.Scan(&st.Instrument, &st.Timeframe, &st.Model, &st.MeanAbsError, &st.Count, &lastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan model stat: %w", err)
		}
		st.LastUpdated = time.UnixMilli(lastUpdated).UTC()
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model stats: %w", err)
	}
	return stats, nil
}

func (s *SQLitePredictionStore) ListUnresolved(ctx context.Context, now time.Time) ([]models.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+sqlitePredictionColumns+` FROM predictions
		 WHERE resolved = 0 AND issued_at + horizon_seconds * 1000 <= ?
		 ORDER BY issued_at, id`,
		now.UTC().UnixMilli(),
	)
}

func (s *SQLitePredictionStore) ListRecent(ctx context.Context, limit int) ([]models.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+sqlitePredictionColumns+` FROM predictions ORDER BY issued_at DESC, id DESC LIMIT ?`,
		normalizeLimit(limit),
	)
}

func (s *SQLitePredictionStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLitePredictionStore) queryPredictions(ctx context.Context, query string, args ...interface{}) ([]models.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	out := []models.Prediction{}
	for rows.Next() {
		p, err := scanSQLitePrediction(rows)
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

const sqlitePredictionColumns = `id, instrument, timeframe, model, issued_at, horizon_seconds, predicted_value,
	actual_value, error, resolved, resolved_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLitePrediction(row rowScanner) (*models.Prediction, error) {
	var (
		p          models.Prediction
		issuedAt   int64
		horizon    int64
		actual     sql.NullFloat64
		absErr     sql.NullFloat64
		resolved   int64
		resolvedAt sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Instrument, &p.Timeframe, &p.Model, &issuedAt, &horizon, &p.PredictedValue,
		&actual, &absErr, &resolved, &resolvedAt); err != nil {
		return nil, err
	}

	p.IssuedAt = time.UnixMilli(issuedAt).UTC()
	p.Horizon = horizonFromSeconds(horizon)
	p.Resolved = resolved != 0
	if actual.Valid {
		v := actual.Float64
		p.ActualValue = &v
	}
	if absErr.Valid {
		v := absErr.Float64
		p.Error = &v
	}
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64).UTC()
		p.ResolvedAt = &t
	}
	return &p, nil
}
