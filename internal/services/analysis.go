package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/logging"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/irfndi/adaptive-ensemble/internal/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// CandleSource yields OHLCV history.
type CandleSource interface {
	GetCandles(ctx context.Context, instrument, timeframe, period string) ([]models.Candle, error)
}

// Combiner turns forecasts and sentiment into a decision.
type Combiner interface {
	Combine(ctx context.Context, instrument string, forecasts []models.Forecast, sentiment float64, candles map[string][]models.Candle) (*models.Decision, error)
}

// ModelForecast is one model's value for a timeframe. Value is nil when the
// model could not forecast.
type ModelForecast struct {
	Model string   `json:"model"`
	Value *float64 `json:"value"`
}

// TimeframeForecasts groups the model forecasts of one timeframe.
type TimeframeForecasts struct {
	Timeframe string          `json:"timeframe"`
	LastClose float64         `json:"last_close"`
	Models    []ModelForecast `json:"models"`
}

// AnalysisResult is the full output of one analysis request.
type AnalysisResult struct {
	RequestID        string               `json:"request_id"`
	Ticker           string               `json:"ticker"`
	Pattern          string               `json:"pattern"`
	SentimentScore   float64              `json:"sentiment_score"`
	SentimentReasons []SentimentReason    `json:"sentiment_reasons"`
	Forecasts        []TimeframeForecasts `json:"forecasts"`
	LastPrice        *float64             `json:"last_price"`
	Decision         *models.Decision     `json:"decision"`
	Timestamp        time.Time            `json:"timestamp"`
}

// AnalysisService runs the end-to-end pipeline for a single ticker.
type AnalysisService struct {
	candles     CandleSource
	sentiment   SentimentProducer
	forecasters []Forecaster
	combiner    Combiner
	timeframes  []string
	period      string
	patternTF   string
	logger      *logrus.Logger
	tracer      trace.Tracer
	business    *telemetry.BusinessTracer
}

// NewAnalysisService creates the analysis pipeline.
func NewAnalysisService(candles CandleSource, sentiment SentimentProducer, forecasters []Forecaster, combiner Combiner, md config.MarketDataConfig, ens config.EnsembleConfig, logger *logrus.Logger) *AnalysisService {
	if logger == nil {
		logger = logrus.New()
	}
	timeframes := md.Timeframes
	if len(timeframes) == 0 {
		timeframes = []string{"1m", "15m", "1h"}
	}
	period := md.AnalysisPeriod
	if period == "" {
		period = "2d"
	}
	patternTF := ens.ReferenceTimeframe
	if patternTF == "" {
		patternTF = "1h"
	}
	return &AnalysisService{
		candles:     candles,
		sentiment:   sentiment,
		forecasters: forecasters,
		combiner:    combiner,
		timeframes:  timeframes,
		period:      period,
		patternTF:   patternTF,
		logger:      logger,
		tracer:      telemetry.GetEnsembleTracer(),
		business:    telemetry.NewBusinessTracer(),
	}
}

// Analyze fetches market data for ticker, runs every forecaster on every
// timeframe with data and returns the blended decision.
func (s *AnalysisService) Analyze(ctx context.Context, ticker string) (*AnalysisResult, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if err := utils.RequireNonEmpty("ticker", ticker); err != nil {
		return nil, err
	}

	requestID := utils.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
		ctx = utils.ContextWithRequestID(ctx, requestID)
	}

	ctx, span := telemetry.StartSpan(ctx, s.tracer, "analysis.analyze",
		telemetry.StringAttribute("analysis.ticker", ticker),
		telemetry.StringAttribute("request.id", requestID),
	)
	defer span.End()

	logger := logging.WithRequestID(s.logger, requestID).WithField("ticker", ticker)

	candles := make(map[string][]models.Candle, len(s.timeframes))
	for _, tf := range s.timeframes {
		data, err := s.candles.GetCandles(ctx, ticker, tf, s.period)
		if err != nil {
			logger.WithError(err).WithField("timeframe", tf).Warn("Failed to fetch candles")
			continue
		}
		candles[tf] = data
	}

	pattern := DetectPattern(candles[s.patternTF])

	sentiment, reasons, err := s.sentiment.Score(ctx, ticker)
	if err != nil {
		logger.WithError(err).Warn("Sentiment scoring failed, using 0")
		sentiment, reasons = 0, nil
	}

	result := &AnalysisResult{
		RequestID:        requestID,
		Ticker:           ticker,
		Pattern:          pattern,
		SentimentScore:   sentiment,
		SentimentReasons: reasons,
		Forecasts:        []TimeframeForecasts{},
	}

	var forecasts []models.Forecast
	for _, tf := range s.timeframes {
		data := candles[tf]
		if len(data) == 0 {
			continue
		}
		closes := models.Closes(data)
		last := closes[len(closes)-1]
		lastPrice := last
		result.LastPrice = &lastPrice

		group := TimeframeForecasts{Timeframe: tf, LastClose: last}
		for _, f := range s.forecasters {
			value, ok := s.runForecaster(ctx, logger, f, ticker, tf, closes)
			mf := ModelForecast{Model: f.Name()}
			if ok {
				v := value
				mf.Value = &v
				forecasts = append(forecasts, models.Forecast{
					Model:     f.Name(),
					Timeframe: tf,
					LastPrice: last,
					Predicted: value,
				})
			}
			group.Models = append(group.Models, mf)
		}
		result.Forecasts = append(result.Forecasts, group)
	}

	decision, err := s.combiner.Combine(ctx, ticker, forecasts, sentiment, candles)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.WithError(err).Error("Ensemble combination failed")
		return nil, err
	}

	result.Decision = decision
	result.Timestamp = decision.DecidedAt
	telemetry.SetSpanAttributes(span,
		telemetry.StringAttribute("analysis.action", string(decision.Action)),
		telemetry.Int64Attribute("analysis.forecasts", int64(len(forecasts))),
	)
	return result, nil
}

func (s *AnalysisService) runForecaster(ctx context.Context, logger *logrus.Entry, f Forecaster, ticker, tf string, closes []float64) (float64, bool) {
	ctx, span := s.business.TraceForecast(ctx, f.Name(), ticker, tf)
	defer span.End()

	value, ok, err := f.Forecast(ctx, ticker, tf, closes)
	if err != nil {
		telemetry.RecordError(span, err)
		logging.WithForecastKey(logger, ticker, tf, f.Name()).WithError(err).Warn("Forecaster failed")
		return 0, false
	}
	if !ok {
		logging.WithForecastKey(logger, ticker, tf, f.Name()).
			WithField("closes", len(closes)).
			Warn("Forecaster produced no value")
	}
	return value, ok
}
