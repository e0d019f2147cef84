package services

import (
	"context"
	"fmt"
	"math"

	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultEpsilon floors the mean absolute error before inversion.
const DefaultEpsilon = 1e-6

// StatsSource is the part of the prediction store the weight engine reads.
type StatsSource interface {
	GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error)
}

// WeightCache stores computed weight vectors. Implementations are never
// authoritative; a miss or an error falls through to the stats source.
// Invalidate advances a per-key generation, and Set stores only when the key
// is still at the generation read before the stats were loaded.
type WeightCache interface {
	Get(ctx context.Context, instrument, timeframe string) (models.WeightVector, bool, error)
	Generation(ctx context.Context, instrument, timeframe string) (int64, error)
	Set(ctx context.Context, instrument, timeframe string, generation int64, weights models.WeightVector) (bool, error)
	Invalidate(ctx context.Context, instrument, timeframe string) error
}

// AdaptiveWeightEngine turns per-model error aggregates into blending weights.
type AdaptiveWeightEngine struct {
	stats       StatsSource
	cache       WeightCache
	knownModels []string
	epsilon     float64
	logger      *logrus.Logger
}

// NewAdaptiveWeightEngine creates a weight engine. cache may be nil.
func NewAdaptiveWeightEngine(stats StatsSource, cache WeightCache, knownModels []string, epsilon float64, logger *logrus.Logger) *AdaptiveWeightEngine {
	if logger == nil {
		logger = logrus.New()
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	known := make([]string, len(knownModels))
	copy(known, knownModels)

	return &AdaptiveWeightEngine{
		stats:       stats,
		cache:       cache,
		knownModels: known,
		epsilon:     epsilon,
		logger:      logger,
	}
}

// ComputeWeights returns the weight vector for (instrument, timeframe).
// Models with a lower historical error receive proportionally more weight.
func (e *AdaptiveWeightEngine) ComputeWeights(ctx context.Context, instrument, timeframe string) (models.WeightVector, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"instrument": instrument,
		"timeframe":  timeframe,
	})

	cacheable := false
	var generation int64
	if e.cache != nil {
		weights, ok, err := e.cache.Get(ctx, instrument, timeframe)
		if err != nil {
			logger.WithError(err).Warn("Weight cache read failed, computing from stats")
		} else if ok {
			return weights, nil
		}

		// read before the stats so a resolution landing in between is detected
		generation, err = e.cache.Generation(ctx, instrument, timeframe)
		if err != nil {
			logger.WithError(err).Warn("Weight cache generation unavailable, not caching")
		} else {
			cacheable = true
		}
	}

	stats, err := e.stats.GetModelStats(ctx, instrument, timeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load model stats: %w", err)
	}

	weights := InverseErrorWeights(stats, e.knownModels, e.epsilon)

	if cacheable {
		stored, err := e.cache.Set(ctx, instrument, timeframe, generation, weights)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Failed to cache weights")
		case !stored:
			logger.Debug("Weights invalidated while computing, not cached")
		}
	}

	return weights, nil
}

// InvalidateWeights drops any cached vector for the key. It is a no-op
// without a cache.
func (e *AdaptiveWeightEngine) InvalidateWeights(ctx context.Context, instrument, timeframe string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, instrument, timeframe)
}

// InverseErrorWeights computes normalized 1/max(mae, epsilon) weights over
// the models present in stats. With no history the known models share the
// weight uniformly.
func InverseErrorWeights(stats []models.ModelStat, knownModels []string, epsilon float64) models.WeightVector {
	if len(stats) == 0 {
		weights := make(models.WeightVector, len(knownModels))
		if len(knownModels) == 0 {
			return weights
		}
		share := 1.0 / float64(len(knownModels))
		for _, m := range knownModels {
			weights[m] = share
		}
		return weights
	}

	raw := make(map[string]float64, len(stats))
	var total float64
	for _, s := range stats {
		inv := 1.0 / math.Max(s.MeanAbsError, epsilon)
		raw[s.Model] = inv
		total += inv
	}

	weights := make(models.WeightVector, len(raw))
	for m, inv := range raw {
		weights[m] = inv / total
	}
	return weights
}
