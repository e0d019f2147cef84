package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/sirupsen/logrus"
)

// PredictionRecorder writes forecasts to the ledger.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, p models.NewPrediction) (int64, error)
}

// WeightProvider yields the blending weights for a key.
type WeightProvider interface {
	ComputeWeights(ctx context.Context, instrument, timeframe string) (models.WeightVector, error)
}

// EventPublisher is the publishing half of the event bus.
type EventPublisher interface {
	Publish(e events.Event, payload any)
}

// IndicatorInput is everything an indicator scorer may look at.
type IndicatorInput struct {
	Instrument         string
	ReferenceTimeframe string
	Forecasts          []models.RecordedForecast
	Candles            map[string][]models.Candle
}

// IndicatorScorer produces the indicator sub-score of a decision.
type IndicatorScorer interface {
	Score(ctx context.Context, in IndicatorInput) (float64, error)
}

// TrendModelIndicator scores with the reference-timeframe return of a
// single trend-following model.
type TrendModelIndicator struct {
	Model string
}

// Score returns the trend model's return, or 0 when it did not forecast.
func (t TrendModelIndicator) Score(_ context.Context, in IndicatorInput) (float64, error) {
	for _, f := range in.Forecasts {
		if f.Model == t.Model && f.Timeframe == in.ReferenceTimeframe {
			return f.Return, nil
		}
	}
	return 0, nil
}

// Thresholds gate the action derived from a combined signal.
type Thresholds struct {
	Signal        float64
	ConfidenceMin float64
}

// DefaultThresholds are the production action thresholds.
var DefaultThresholds = Thresholds{Signal: 0.02, ConfidenceMin: 0.3}

// DecideAction maps a combined signal and its confidence onto an action.
func DecideAction(combined, confidence float64, t Thresholds) models.Action {
	switch {
	case combined > t.Signal && confidence > t.ConfidenceMin:
		return models.ActionBuy
	case combined < -t.Signal && confidence > t.ConfidenceMin:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

// HorizonFor returns the prediction horizon of a timeframe label.
func HorizonFor(timeframe string, horizons map[string]time.Duration) (time.Duration, error) {
	if d, ok := horizons[timeframe]; ok && d > 0 {
		return d, nil
	}
	d, err := time.ParseDuration(timeframe)
	if err != nil || d <= 0 {
		return 0, utils.NewValidationErrorf("timeframe", "no horizon known for %q", timeframe)
	}
	return d, nil
}

// NumericScore is the weight-averaged return of the recorded forecasts at
// timeframe. Models absent from weights use defaultWeight.
func NumericScore(recorded []models.RecordedForecast, timeframe string, weights models.WeightVector, defaultWeight float64) float64 {
	var num, den float64
	for _, f := range recorded {
		if f.Timeframe != timeframe {
			continue
		}
		w := weights.Get(f.Model, defaultWeight)
		num += w * f.Return
		den += w
	}
	if den == 0 {
		return 0
	}
	return num / den
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// EnsembleService records every forecast it is handed and blends them with
// the indicator and sentiment sub-scores into a decision.
type EnsembleService struct {
	recorder  PredictionRecorder
	weights   WeightProvider
	indicator IndicatorScorer
	bus       EventPublisher
	cfg       config.EnsembleConfig
	logger    *logrus.Logger
	tracer    *telemetry.BusinessTracer
	now       func() time.Time
}

// NewEnsembleService creates an ensemble service. bus may be nil.
func NewEnsembleService(recorder PredictionRecorder, weights WeightProvider, indicator IndicatorScorer, bus EventPublisher, cfg config.EnsembleConfig, logger *logrus.Logger) *EnsembleService {
	if logger == nil {
		logger = logrus.New()
	}
	if indicator == nil {
		indicator = TrendModelIndicator{Model: cfg.TrendModel}
	}
	return &EnsembleService{
		recorder:  recorder,
		weights:   weights,
		indicator: indicator,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
		tracer:    telemetry.NewBusinessTracer(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Combine records forecasts and returns the blended decision for instrument.
// Any recording failure aborts the pass before a decision is produced.
func (s *EnsembleService) Combine(ctx context.Context, instrument string, forecasts []models.Forecast, sentiment float64, candles map[string][]models.Candle) (*models.Decision, error) {
	instrument = strings.ToUpper(strings.TrimSpace(instrument))
	if err := utils.RequireNonEmpty("ticker", instrument); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.TraceDecision(ctx, instrument, forecastTimeframes(forecasts))
	defer span.End()

	issuedAt := s.now()
	recorded := make([]models.RecordedForecast, 0, len(forecasts))
	for _, f := range forecasts {
		horizon, err := HorizonFor(f.Timeframe, s.cfg.Horizons)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		id, err := s.recorder.RecordPrediction(ctx, models.NewPrediction{
			Instrument:     instrument,
			Timeframe:      f.Timeframe,
			Model:          f.Model,
			IssuedAt:       issuedAt,
			Horizon:        horizon,
			PredictedValue: f.Predicted,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to record %s %s forecast: %w", f.Model, f.Timeframe, err)
		}

		recorded = append(recorded, models.RecordedForecast{
			PredictionID: id,
			Model:        f.Model,
			Timeframe:    f.Timeframe,
			Predicted:    f.Predicted,
			Return:       f.Return(),
		})
	}

	ref := s.cfg.ReferenceTimeframe
	weights, err := s.weights.ComputeWeights(ctx, instrument, ref)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to compute weights: %w", err)
	}

	numeric := NumericScore(recorded, ref, weights, s.cfg.DefaultModelWeight)

	indicator, err := s.indicator.Score(ctx, IndicatorInput{
		Instrument:         instrument,
		ReferenceTimeframe: ref,
		Forecasts:          recorded,
		Candles:            candles,
	})
	if err != nil {
		s.logger.WithError(err).WithField("instrument", instrument).Warn("Indicator scoring failed, using 0")
		indicator = 0
	}

	sentiment = clamp(sentiment, -1, 1)
	combined := s.cfg.IndicatorWeight*indicator + s.cfg.NumericWeight*numeric + s.cfg.SentimentWeight*sentiment
	confidence := clamp(math.Abs(combined), 0, 1)
	action := DecideAction(combined, confidence, Thresholds{Signal: s.cfg.SignalThreshold, ConfidenceMin: s.cfg.ConfidenceMin})

	decision := &models.Decision{
		ID:             uuid.New().String(),
		Instrument:     instrument,
		Action:         action,
		Confidence:     confidence,
		Combined:       combined,
		IndicatorScore: indicator,
		NumericScore:   numeric,
		SentimentScore: sentiment,
		Weights:        weights,
		Recorded:       recorded,
		DecidedAt:      issuedAt,
	}

	s.tracer.RecordDecision(span, telemetry.DecisionSummary{
		Action:         string(action),
		Confidence:     confidence,
		Combined:       combined,
		IndicatorScore: indicator,
		NumericScore:   numeric,
		SentimentScore: sentiment,
		Recorded:       len(recorded),
	})

	s.logger.WithFields(logrus.Fields{
		"instrument": instrument,
		"action":     action,
		"combined":   combined,
		"confidence": confidence,
		"recorded":   len(recorded),
	}).Info("Ensemble decision made")

	if s.bus != nil {
		s.bus.Publish(events.EventDecisionMade, decision)
	}

	return decision, nil
}

func forecastTimeframes(forecasts []models.Forecast) []string {
	seen := make(map[string]struct{}, len(forecasts))
	out := make([]string, 0, len(forecasts))
	for _, f := range forecasts {
		if _, ok := seen[f.Timeframe]; ok {
			continue
		}
		seen[f.Timeframe] = struct{}{}
		out = append(out, f.Timeframe)
	}
	sort.Strings(out)
	return out
}
