package services

import (
	"context"
	"sync"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockStatsSource implements StatsSource for testing within the services package
type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) GetModelStats(ctx context.Context, instrument, timeframe string) ([]models.ModelStat, error) {
	args := m.Called(ctx, instrument, timeframe)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ModelStat), args.Error(1)
}

// MockWeightCache implements WeightCache
type MockWeightCache struct {
	mock.Mock
}

func (m *MockWeightCache) Get(ctx context.Context, instrument, timeframe string) (models.WeightVector, bool, error) {
	args := m.Called(ctx, instrument, timeframe)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(models.WeightVector), args.Bool(1), args.Error(2)
}

func (m *MockWeightCache) Generation(ctx context.Context, instrument, timeframe string) (int64, error) {
	args := m.Called(ctx, instrument, timeframe)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWeightCache) Set(ctx context.Context, instrument, timeframe string, generation int64, weights models.WeightVector) (bool, error) {
	args := m.Called(ctx, instrument, timeframe, generation, weights)
	return args.Bool(0), args.Error(1)
}

func (m *MockWeightCache) Invalidate(ctx context.Context, instrument, timeframe string) error {
	return m.Called(ctx, instrument, timeframe).Error(0)
}

// MockRecorder implements PredictionRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordPrediction(ctx context.Context, p models.NewPrediction) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}

// MockWeightProvider implements WeightProvider
type MockWeightProvider struct {
	mock.Mock
}

func (m *MockWeightProvider) ComputeWeights(ctx context.Context, instrument, timeframe string) (models.WeightVector, error) {
	args := m.Called(ctx, instrument, timeframe)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.WeightVector), args.Error(1)
}

// MockCandleSource implements CandleSource
type MockCandleSource struct {
	mock.Mock
}

func (m *MockCandleSource) GetCandles(ctx context.Context, instrument, timeframe, period string) ([]models.Candle, error) {
	args := m.Called(ctx, instrument, timeframe, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), args.Error(1)
}

// MockSentiment implements SentimentProducer
type MockSentiment struct {
	mock.Mock
}

func (m *MockSentiment) Score(ctx context.Context, instrument string) (float64, []SentimentReason, error) {
	args := m.Called(ctx, instrument)
	var reasons []SentimentReason
	if args.Get(1) != nil {
		reasons = args.Get(1).([]SentimentReason)
	}
	return args.Get(0).(float64), reasons, args.Error(2)
}

// MockHeadlineSource implements HeadlineSource
type MockHeadlineSource struct {
	mock.Mock
}

func (m *MockHeadlineSource) GetHeadlines(ctx context.Context, instrument string, limit int) ([]models.Headline, error) {
	args := m.Called(ctx, instrument, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Headline), args.Error(1)
}

// MockForecaster implements Forecaster
type MockForecaster struct {
	mock.Mock
	name string
}

func (m *MockForecaster) Name() string { return m.name }

func (m *MockForecaster) Forecast(ctx context.Context, instrument, timeframe string, closes []float64) (float64, bool, error) {
	args := m.Called(ctx, instrument, timeframe, closes)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

// MockCombiner implements Combiner
type MockCombiner struct {
	mock.Mock
}

func (m *MockCombiner) Combine(ctx context.Context, instrument string, forecasts []models.Forecast, sentiment float64, candles map[string][]models.Candle) (*models.Decision, error) {
	args := m.Called(ctx, instrument, forecasts, sentiment, candles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Decision), args.Error(1)
}

// MockLister implements UnresolvedLister
type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListUnresolved(ctx context.Context, now time.Time) ([]models.Prediction, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Prediction), args.Error(1)
}

// MockPriceSource implements PriceSource
type MockPriceSource struct {
	mock.Mock
}

func (m *MockPriceSource) GetLatestClose(ctx context.Context, instrument, timeframe string) (float64, error) {
	args := m.Called(ctx, instrument, timeframe)
	return args.Get(0).(float64), args.Error(1)
}

// MockPredictionResolver implements PredictionResolver
type MockPredictionResolver struct {
	mock.Mock
}

func (m *MockPredictionResolver) Resolve(ctx context.Context, id int64, actual float64) (*models.Resolution, error) {
	args := m.Called(ctx, id, actual)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Resolution), args.Error(1)
}

// MockInvalidator implements WeightInvalidator
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) InvalidateWeights(ctx context.Context, instrument, timeframe string) error {
	return m.Called(ctx, instrument, timeframe).Error(0)
}

// MockAnalyzer implements Analyzer
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, ticker string) (*AnalysisResult, error) {
	args := m.Called(ctx, ticker)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AnalysisResult), args.Error(1)
}

// recordingSender captures every message sent.
type recordingSender struct {
	mu       sync.Mutex
	messages []sentMessage
	err      error
}

type sentMessage struct {
	chatID int64
	text   string
}

func (s *recordingSender) SendMessage(_ context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sentMessage{chatID: chatID, text: text})
	return s.err
}

func (s *recordingSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.text
	}
	return out
}

// recordingBus captures published events.
type recordingBus struct {
	mu     sync.Mutex
	events []published
}

type published struct {
	event   events.Event
	payload any
}

func (b *recordingBus) Publish(e events.Event, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, published{event: e, payload: payload})
}

func (b *recordingBus) snapshot() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]published, len(b.events))
	copy(out, b.events)
	return out
}
