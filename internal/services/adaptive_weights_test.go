package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/irfndi/adaptive-ensemble/internal/cache"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *database.SQLitePredictionStore {
	t.Helper()
	db, err := database.NewSQLiteConnection(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return database.NewSQLitePredictionStore(db)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestInverseErrorWeights_ColdStartIsUniform(t *testing.T) {
	w := InverseErrorWeights(nil, []string{"arima", "lstm"}, DefaultEpsilon)

	assert.Equal(t, models.WeightVector{"arima": 0.5, "lstm": 0.5}, w)
}

func TestInverseErrorWeights_NoKnownModels(t *testing.T) {
	w := InverseErrorWeights(nil, nil, DefaultEpsilon)
	assert.Empty(t, w)
}

func TestInverseErrorWeights_Normalized(t *testing.T) {
	stats := []models.ModelStat{
		{Model: "arima", MeanAbsError: 1},
		{Model: "lstm", MeanAbsError: 3},
	}

	w := InverseErrorWeights(stats, []string{"arima", "lstm"}, DefaultEpsilon)

	assert.InDelta(t, 0.75, w["arima"], 1e-12)
	assert.InDelta(t, 0.25, w["lstm"], 1e-12)
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
}

func TestInverseErrorWeights_OnlyModelsWithHistory(t *testing.T) {
	stats := []models.ModelStat{{Model: "arima", MeanAbsError: 2}}

	w := InverseErrorWeights(stats, []string{"arima", "lstm"}, DefaultEpsilon)

	assert.Equal(t, models.WeightVector{"arima": 1}, w)
}

func TestInverseErrorWeights_ZeroErrorIsFloored(t *testing.T) {
	stats := []models.ModelStat{
		{Model: "arima", MeanAbsError: 0},
		{Model: "lstm", MeanAbsError: 1},
	}

	w := InverseErrorWeights(stats, nil, DefaultEpsilon)

	assert.InDelta(t, 1e6/(1e6+1), w["arima"], 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-12)
}

func TestInverseErrorWeights_Monotonic(t *testing.T) {
	for _, mae := range []float64{0.1, 0.5, 1, 2, 10} {
		stats := []models.ModelStat{
			{Model: "a", MeanAbsError: mae},
			{Model: "b", MeanAbsError: mae * 2},
		}
		w := InverseErrorWeights(stats, nil, DefaultEpsilon)
		assert.Greater(t, w["a"], w["b"], "lower error must weigh more (mae=%v)", mae)
		assert.InDelta(t, 1.0, w.Sum(), 1e-12)
	}
}

func TestAdaptiveWeightEngine_FromStore(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	issued := time.Now().Add(-2 * time.Hour).UTC()

	arimaID, err := store.RecordPrediction(ctx, models.NewPrediction{
		Instrument: "X", Timeframe: "1h", Model: "arima", IssuedAt: issued, Horizon: time.Hour, PredictedValue: 101,
	})
	require.NoError(t, err)
	lstmID, err := store.RecordPrediction(ctx, models.NewPrediction{
		Instrument: "X", Timeframe: "1h", Model: "lstm", IssuedAt: issued, Horizon: time.Hour, PredictedValue: 99,
	})
	require.NoError(t, err)

	_, err = store.Resolve(ctx, arimaID, 100.5)
	require.NoError(t, err)
	_, err = store.Resolve(ctx, lstmID, 100.5)
	require.NoError(t, err)

	engine := NewAdaptiveWeightEngine(store, nil, []string{"arima", "lstm"}, DefaultEpsilon, quietLogger())
	w, err := engine.ComputeWeights(ctx, "X", "1h")
	require.NoError(t, err)

	// errors 0.5 and 1.5 give inverse weights 2 and 2/3
	assert.InDelta(t, 0.75, w["arima"], 1e-9)
	assert.InDelta(t, 0.25, w["lstm"], 1e-9)

	cold, err := engine.ComputeWeights(ctx, "Y", "1h")
	require.NoError(t, err)
	assert.Equal(t, models.WeightVector{"arima": 0.5, "lstm": 0.5}, cold)
}

func TestAdaptiveWeightEngine_CacheHitSkipsStore(t *testing.T) {
	stats := &MockStatsSource{}
	cache := &MockWeightCache{}
	cached := models.WeightVector{"arima": 0.9, "lstm": 0.1}
	cache.On("Get", mock.Anything, "X", "1h").Return(cached, true, nil)

	engine := NewAdaptiveWeightEngine(stats, cache, []string{"arima", "lstm"}, 0, quietLogger())
	w, err := engine.ComputeWeights(context.Background(), "X", "1h")

	require.NoError(t, err)
	assert.Equal(t, cached, w)
	stats.AssertNotCalled(t, "GetModelStats", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdaptiveWeightEngine_CacheMissPopulates(t *testing.T) {
	stats := &MockStatsSource{}
	cache := &MockWeightCache{}
	stats.On("GetModelStats", mock.Anything, "X", "1h").Return([]models.ModelStat{{Model: "arima", MeanAbsError: 1}}, nil)
	cache.On("Get", mock.Anything, "X", "1h").Return(nil, false, nil)
	cache.On("Generation", mock.Anything, "X", "1h").Return(int64(4), nil)
	cache.On("Set", mock.Anything, "X", "1h", int64(4), models.WeightVector{"arima": 1}).Return(true, nil)

	engine := NewAdaptiveWeightEngine(stats, cache, []string{"arima"}, 0, quietLogger())
	w, err := engine.ComputeWeights(context.Background(), "X", "1h")

	require.NoError(t, err)
	assert.Equal(t, models.WeightVector{"arima": 1}, w)
	cache.AssertExpectations(t)
}

func TestAdaptiveWeightEngine_CacheErrorsFallBack(t *testing.T) {
	stats := &MockStatsSource{}
	cache := &MockWeightCache{}
	stats.On("GetModelStats", mock.Anything, "X", "1h").Return([]models.ModelStat{}, nil)
	cache.On("Get", mock.Anything, "X", "1h").Return(nil, false, errors.New("redis down"))
	cache.On("Generation", mock.Anything, "X", "1h").Return(int64(0), nil)
	cache.On("Set", mock.Anything, "X", "1h", int64(0), mock.Anything).Return(false, errors.New("redis down"))

	engine := NewAdaptiveWeightEngine(stats, cache, []string{"arima", "lstm"}, 0, quietLogger())
	w, err := engine.ComputeWeights(context.Background(), "X", "1h")

	require.NoError(t, err)
	assert.Equal(t, models.WeightVector{"arima": 0.5, "lstm": 0.5}, w)
}

func TestAdaptiveWeightEngine_NoGenerationSkipsCaching(t *testing.T) {
	stats := &MockStatsSource{}
	cache := &MockWeightCache{}
	stats.On("GetModelStats", mock.Anything, "X", "1h").Return([]models.ModelStat{}, nil)
	cache.On("Get", mock.Anything, "X", "1h").Return(nil, false, nil)
	cache.On("Generation", mock.Anything, "X", "1h").Return(int64(0), errors.New("redis down"))

	engine := NewAdaptiveWeightEngine(stats, cache, []string{"arima", "lstm"}, 0, quietLogger())
	w, err := engine.ComputeWeights(context.Background(), "X", "1h")

	require.NoError(t, err)
	assert.Equal(t, models.WeightVector{"arima": 0.5, "lstm": 0.5}, w)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// resolvingStats resolves a prediction right after reading, so the
// returned stats are already out of date.
type resolvingStats struct {
	inner    StatsSource
	onRead   func()
	resolved bool
}

func (s *resolvingStats) GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error) {
	stats, err := s.inner.GetModelStats(ctx, instrument, timeframe)
	if !s.resolved && s.onRead != nil {
		s.resolved = true
		s.onRead()
	}
	return stats, err
}

func TestAdaptiveWeightEngine_ResolutionDuringComputeIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	weightCache := cache.NewRedisWeightCache(client, 5*time.Minute, quietLogger())

	source := &resolvingStats{inner: store}
	engine := NewAdaptiveWeightEngine(source, weightCache, []string{"arima", "lstm"}, 0, quietLogger())
	resolver := NewResolver(store, engine, nil, quietLogger())

	record := func(model string, predicted float64) int64 {
		id, err := store.RecordPrediction(ctx, models.NewPrediction{
			Instrument: "X", Timeframe: "1h", Model: model,
			IssuedAt: time.Now().UTC(), Horizon: time.Hour, PredictedValue: predicted,
		})
		require.NoError(t, err)
		return id
	}

	arima, lstm := record("arima", 101), record("lstm", 99)
	_, err := resolver.Resolve(ctx, arima, 100.5)
	require.NoError(t, err)
	_, err = resolver.Resolve(ctx, lstm, 100.5)
	require.NoError(t, err)

	late := record("arima", 109.5)
	source.onRead = func() {
		_, err := resolver.Resolve(ctx, late, 100.5)
		require.NoError(t, err)
	}

	first, err := engine.ComputeWeights(ctx, "X", "1h")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, first["arima"], 1e-9)

	// arima now averages (0.5+9)/2 against lstm's 1.5
	after, err := engine.ComputeWeights(ctx, "X", "1h")
	require.NoError(t, err)
	assert.InDelta(t, (1/4.75)/(1/4.75+1/1.5), after["arima"], 1e-9)
	assert.InDelta(t, (1/1.5)/(1/4.75+1/1.5), after["lstm"], 1e-9)

	cached, ok, err := weightCache.Get(ctx, "X", "1h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, after, cached)
	assert.Equal(t, int64(1), weightCache.GetStats().Stale)
}

func TestAdaptiveWeightEngine_StoreError(t *testing.T) {
	stats := &MockStatsSource{}
	stats.On("GetModelStats", mock.Anything, "X", "1h").Return(nil, errors.New("disk full"))

	engine := NewAdaptiveWeightEngine(stats, nil, []string{"arima"}, 0, quietLogger())
	_, err := engine.ComputeWeights(context.Background(), "X", "1h")

	assert.ErrorContains(t, err, "failed to load model stats")
}

func TestAdaptiveWeightEngine_InvalidateWeights(t *testing.T) {
	engine := NewAdaptiveWeightEngine(&MockStatsSource{}, nil, nil, 0, nil)
	assert.NoError(t, engine.InvalidateWeights(context.Background(), "X", "1h"))

	cache := &MockWeightCache{}
	cache.On("Invalidate", mock.Anything, "X", "1h").Return(nil)
	engine = NewAdaptiveWeightEngine(&MockStatsSource{}, cache, nil, 0, nil)
	assert.NoError(t, engine.InvalidateWeights(context.Background(), "X", "1h"))
	cache.AssertExpectations(t)
}
