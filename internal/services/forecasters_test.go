package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestARIMAForecaster_RequiresHistory(t *testing.T) {
	f := NewARIMAForecaster(2, 2, 11)
	assert.Equal(t, ModelARIMA, f.Name())

	_, ok, err := f.Forecast(context.Background(), "X", "1h", linear(10, 100, 1))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = f.Forecast(context.Background(), "X", "1h", linear(11, 100, 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestARIMAForecaster_DegenerateFallsBackToDrift(t *testing.T) {
	f := NewARIMAForecaster(2, 2, 11)

	// constant differences make the design matrix singular
	v, ok, err := f.Forecast(context.Background(), "X", "1h", linear(20, 100, 0.5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 110.0, v, 1e-9)

	v, ok, err = f.Forecast(context.Background(), "X", "1h", linear(20, 100, 0))
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9)
}

func autoregressiveCloses() ([]float64, float64) {
	// differences follow d[t] = 0.1 + 0.5*d[t-1] - 0.2*d[t-2] exactly
	diffs := []float64{1, -0.5}
	for len(diffs) < 40 {
		n := len(diffs)
		diffs = append(diffs, 0.1+0.5*diffs[n-1]-0.2*diffs[n-2])
	}
	closes := []float64{100}
	for _, d := range diffs {
		closes = append(closes, closes[len(closes)-1]+d)
	}
	n := len(diffs)
	return closes, closes[len(closes)-1] + 0.1 + 0.5*diffs[n-1] - 0.2*diffs[n-2]
}

func TestARIMAForecaster_FitsAutoregressiveDiffs(t *testing.T) {
	closes, want := autoregressiveCloses()

	v, ok, err := NewARIMAForecaster(2, 0, 11).Forecast(context.Background(), "X", "1h", closes)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, want, v, 1e-6)
}

func TestARIMAForecaster_ExactAutoregressionIgnoresMovingAverage(t *testing.T) {
	closes, want := autoregressiveCloses()

	v, ok, err := NewARIMAForecaster(2, 2, 11).Forecast(context.Background(), "X", "1h", closes)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, want, v, 1e-4)
}

func TestFitARMA_RecoversCoefficients(t *testing.T) {
	// d[t] = 0.2 + 0.5*d[t-1] + e[t] + 0.4*e[t-1]
	rng := rand.New(rand.NewPCG(7, 11))
	series := make([]float64, 3000)
	prevD, prevE := 0.0, 0.0
	for i := range series {
		e := rng.NormFloat64()
		series[i] = 0.2 + 0.5*prevD + e + 0.4*prevE
		prevD, prevE = series[i], e
	}

	beta, resid, ok := fitARMA(series, 1, 1)
	require.True(t, ok)
	require.Len(t, resid, len(series))
	assert.InDelta(t, 0.2, beta.AtVec(0), 0.1)
	assert.InDelta(t, 0.5, beta.AtVec(1), 0.1)
	assert.InDelta(t, 0.4, beta.AtVec(2), 0.1)

	next, ok := fitARIMA(series, 1, 1)
	require.True(t, ok)
	assert.False(t, math.IsNaN(next))
}

func TestFitARMA_ShortSeries(t *testing.T) {
	_, _, ok := fitARMA([]float64{1, 2, 1, 3, 2, 4, 3}, 2, 2)
	assert.False(t, ok)

	// the AR(p) fallback still forecasts
	_, ok = fitARIMA([]float64{1, 2, 1, 3, 2, 4, 3, 2, 5, 1}, 2, 2)
	assert.True(t, ok)
}

func TestRegressLags(t *testing.T) {
	// s[t] = 1 + 0.5*s[t-1]
	series := []float64{4}
	for len(series) < 6 {
		series = append(series, 1+0.5*series[len(series)-1])
	}
	beta, ok := regressLags(series, nil, 1, 0, 1)
	require.True(t, ok)
	assert.InDelta(t, 1.0, beta.AtVec(0), 1e-9)
	assert.InDelta(t, 0.5, beta.AtVec(1), 1e-9)
	assert.InDelta(t, 1+0.5*series[5], predictLags(beta, series, nil, 1, 0, 6), 1e-9)

	_, ok = regressLags([]float64{1, 2, 3}, nil, 2, 0, 2)
	assert.False(t, ok)
}

func newTestRemote(t *testing.T, window int, handler http.HandlerFunc) *RemoteForecaster {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewRemoteForecaster(config.RemoteConfig{URL: srv.URL, Window: window, Timeout: time.Second}, quietLogger())
	f.retryInitial = 5 * time.Millisecond
	f.maxRetryElapsed = 200 * time.Millisecond
	return f
}

func TestRemoteForecaster_Forecast(t *testing.T) {
	f := newTestRemote(t, 3, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "X", req.Instrument)
		assert.Equal(t, "15m", req.Timeframe)
		assert.Equal(t, []float64{3, 4, 5}, req.Window)
		_, _ = w.Write([]byte(`{"prediction": 5.5}`))
	})

	v, ok, err := f.Forecast(context.Background(), "X", "15m", []float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.5, v)
	assert.Equal(t, ModelLSTM, f.Name())
}

func TestRemoteForecaster_NoValue(t *testing.T) {
	var calls int32
	f := newTestRemote(t, 3, func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusNotFound)
		default:
			_, _ = w.Write([]byte(`{"prediction": null}`))
		}
	})

	_, ok, err := f.Forecast(context.Background(), "X", "1h", []float64{1, 2})
	require.NoError(t, err)
	assert.False(t, ok, "short window")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	_, ok, err = f.Forecast(context.Background(), "X", "1h", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, ok, "no model for instrument")

	_, ok, err = f.Forecast(context.Background(), "X", "1h", []float64{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, ok, "null prediction")
}

func TestRemoteForecaster_Unconfigured(t *testing.T) {
	f := NewRemoteForecaster(config.RemoteConfig{}, nil)

	_, ok, err := f.Forecast(context.Background(), "X", "1h", linear(64, 1, 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteForecaster_RetriesServerErrors(t *testing.T) {
	var calls int32
	f := newTestRemote(t, 2, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"prediction": 2.5}`))
	})

	v, ok, err := f.Forecast(context.Background(), "X", "1h", []float64{1, 2})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.5, v)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRemoteForecaster_ClientErrorIsPermanent(t *testing.T) {
	var calls int32
	f := newTestRemote(t, 2, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("bad window"))
	})

	_, ok, err := f.Forecast(context.Background(), "X", "1h", []float64{1, 2})
	assert.False(t, ok)
	assert.ErrorContains(t, err, "bad window")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRemoteForecaster_BreakerOpensOnRepeatedFailure(t *testing.T) {
	var calls int32
	f := newTestRemote(t, 2, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	for i := 0; i < 5; i++ {
		_, _, err := f.Forecast(context.Background(), "X", "1h", []float64{1, 2})
		require.Error(t, err)
	}
	_, _, err := f.Forecast(context.Background(), "X", "1h", []float64{1, 2})
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}
