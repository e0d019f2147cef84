package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot/models"
	domain "github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func serve(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req = httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type MockHealthChecker struct {
	mock.Mock
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) Analyze(ctx context.Context, ticker string) (*services.AnalysisResult, error) {
	args := m.Called(ctx, ticker)
	if r := args.Get(0); r != nil {
		return r.(*services.AnalysisResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPredictionReader struct {
	mock.Mock
}

func (m *MockPredictionReader) GetPrediction(ctx context.Context, id int64) (*domain.Prediction, error) {
	args := m.Called(ctx, id)
	if p := args.Get(0); p != nil {
		return p.(*domain.Prediction), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPredictionReader) ListRecent(ctx context.Context, limit int) ([]domain.Prediction, error) {
	args := m.Called(ctx, limit)
	if p := args.Get(0); p != nil {
		return p.([]domain.Prediction), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) GetModelStats(ctx context.Context, instrument, timeframe string) ([]domain.ModelStat, error) {
	args := m.Called(ctx, instrument, timeframe)
	if s := args.Get(0); s != nil {
		return s.([]domain.ModelStat), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockWeightProvider struct {
	mock.Mock
}

func (m *MockWeightProvider) ComputeWeights(ctx context.Context, instrument, timeframe string) (domain.WeightVector, error) {
	args := m.Called(ctx, instrument, timeframe)
	if w := args.Get(0); w != nil {
		return w.(domain.WeightVector), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, id int64, actual float64) (*domain.Resolution, error) {
	args := m.Called(ctx, id, actual)
	if r := args.Get(0); r != nil {
		return r.(*domain.Resolution), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSweeper struct {
	mock.Mock
}

func (m *MockSweeper) RunSweep(ctx context.Context) services.SweepResult {
	return m.Called(ctx).Get(0).(services.SweepResult)
}

type MockUpdateHandler struct {
	mock.Mock
}

func (m *MockUpdateHandler) HandleUpdate(ctx context.Context, update *models.Update) {
	m.Called(ctx, update)
}
