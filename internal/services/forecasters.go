package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Forecaster produces a one-step point forecast from a close series. A
// forecaster that cannot forecast returns ok == false with a nil error.
type Forecaster interface {
	Name() string
	Forecast(ctx context.Context, instrument, timeframe string, closes []float64) (value float64, ok bool, err error)
}

const (
	ModelARIMA = "arima"
	ModelLSTM  = "lstm"
)

// ARIMAForecaster fits an ARIMA(p,1,q) model to the closes and forecasts one
// step ahead. The ARMA part is estimated on the first differences with the
// Hannan-Rissanen two-stage regression: a long autoregression supplies the
// innovations, then the differences are regressed on p own lags and q
// innovation lags. Series whose innovations vanish are fitted as AR(p).
type ARIMAForecaster struct {
	p         int
	q         int
	minCloses int
}

// NewARIMAForecaster creates an ARIMA(p,1,q) forecaster. It needs at least
// minCloses closes to produce a value.
func NewARIMAForecaster(p, q, minCloses int) *ARIMAForecaster {
	if p <= 0 {
		p = 2
	}
	if q < 0 {
		q = 0
	}
	if minCloses <= 0 {
		minCloses = 11
	}
	return &ARIMAForecaster{p: p, q: q, minCloses: minCloses}
}

// Name returns the model identifier.
func (f *ARIMAForecaster) Name() string { return ModelARIMA }

// Forecast returns the next close. Degenerate fits fall back to the last
// close plus the mean difference.
func (f *ARIMAForecaster) Forecast(_ context.Context, _, _ string, closes []float64) (float64, bool, error) {
	if len(closes) < f.minCloses {
		return 0, false, nil
	}

	diffs := make([]float64, len(closes)-1)
	for i := range diffs {
		diffs[i] = closes[i+1] - closes[i]
	}
	last := closes[len(closes)-1]
	drift := last + stat.Mean(diffs, nil)

	if isFlat(diffs) {
		return drift, true, nil
	}

	next, ok := fitARIMA(diffs, f.p, f.q)
	if !ok {
		return drift, true, nil
	}

	value := last + next
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return drift, true, nil
	}
	return value, true, nil
}

// innovationTolerance is the residual RMS, relative to the series scale,
// below which a long autoregression is treated as an exact fit.
const innovationTolerance = 1e-9

func isFlat(series []float64) bool {
	lo, hi := floats.Min(series), floats.Max(series)
	return hi-lo <= 1e-12*(1+math.Abs(hi))
}

// fitARIMA returns the one-step prediction of the differenced series.
func fitARIMA(series []float64, p, q int) (float64, bool) {
	if q > 0 {
		if beta, resid, ok := fitARMA(series, p, q); ok {
			return predictLags(beta, series, resid, p, q, len(series)), true
		}
	}
	beta, ok := regressLags(series, nil, p, 0, p)
	if !ok {
		return 0, false
	}
	return predictLags(beta, series, nil, p, 0, len(series)), true
}

// fitARMA estimates [c, phi_1..phi_p, theta_1..theta_q] and returns them with
// the innovations of the long autoregression.
func fitARMA(series []float64, p, q int) (*mat.VecDense, []float64, bool) {
	n := len(series)
	m := int(math.Ceil(10 * math.Log10(float64(n))))
	if limit := (n - 1) / 3; m > limit {
		m = limit
	}
	if m < p+q {
		return nil, nil, false
	}

	long, ok := regressLags(series, nil, m, 0, m)
	if !ok {
		return nil, nil, false
	}

	resid := make([]float64, n)
	for t := m; t < n; t++ {
		resid[t] = series[t] - predictLags(long, series, nil, m, 0, t)
	}
	rms := math.Sqrt(floats.Dot(resid[m:], resid[m:]) / float64(n-m))
	if rms <= innovationTolerance*(1+floats.Norm(series, math.Inf(1))) {
		return nil, nil, false
	}

	beta, ok := regressLags(series, resid, p, q, m+q)
	if !ok {
		return nil, nil, false
	}
	return beta, resid, true
}

// regressLags solves the least squares regression of series[t] on an
// intercept, p lags of series and q lags of resid, for t in [start, n).
func regressLags(series, resid []float64, p, q, start int) (*mat.VecDense, bool) {
	rows, cols := len(series)-start, 1+p+q
	if rows <= cols {
		return nil, false
	}

	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for r := 0; r < rows; r++ {
		t := start + r
		x.Set(r, 0, 1)
		for j := 1; j <= p; j++ {
			x.Set(r, j, series[t-j])
		}
		for j := 1; j <= q; j++ {
			x.Set(r, p+j, resid[t-j])
		}
		y.SetVec(r, series[t])
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, false
	}
	for i := 0; i < beta.Len(); i++ {
		if v := beta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return &beta, true
}

// predictLags evaluates the fitted regression at time t from the lags before t.
func predictLags(beta *mat.VecDense, series, resid []float64, p, q, t int) float64 {
	next := beta.AtVec(0)
	for j := 1; j <= p; j++ {
		next += beta.AtVec(j) * series[t-j]
	}
	for j := 1; j <= q; j++ {
		next += beta.AtVec(p+j) * resid[t-j]
	}
	return next
}

// remoteRequest is the body posted to the sequence model server.
type remoteRequest struct {
	Instrument string    `json:"instrument"`
	Timeframe  string    `json:"timeframe"`
	Window     []float64 `json:"window"`
}

// remoteResponse carries a nullable prediction.
type remoteResponse struct {
	Prediction *float64 `json:"prediction"`
}

// RemoteForecaster asks an externally served sequence model for a forecast
// over the last Window closes.
type RemoteForecaster struct {
	name       string
	url        string
	window     int
	httpClient *http.Client
	breaker    *CircuitBreaker
	logger     *logrus.Logger

	retryInitial    time.Duration
	maxRetryElapsed time.Duration
}

// NewRemoteForecaster creates the lstm forecaster. An empty URL yields a
// forecaster that never forecasts.
func NewRemoteForecaster(cfg config.RemoteConfig, logger *logrus.Logger) *RemoteForecaster {
	if logger == nil {
		logger = logrus.New()
	}
	window := cfg.Window
	if window <= 0 {
		window = 32
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteForecaster{
		name:            ModelLSTM,
		url:             cfg.URL,
		window:          window,
		httpClient:      &http.Client{Timeout: timeout},
		breaker:         NewCircuitBreaker("forecaster."+ModelLSTM, CircuitBreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second}, logger),
		logger:          logger,
		retryInitial:    200 * time.Millisecond,
		maxRetryElapsed: timeout,
	}
}

// Name returns the model identifier.
func (f *RemoteForecaster) Name() string { return f.name }

// Forecast returns the served model's next-close prediction.
func (f *RemoteForecaster) Forecast(ctx context.Context, instrument, timeframe string, closes []float64) (float64, bool, error) {
	if f.url == "" || len(closes) < f.window {
		return 0, false, nil
	}

	payload, err := json.Marshal(remoteRequest{
		Instrument: instrument,
		Timeframe:  timeframe,
		Window:     closes[len(closes)-f.window:],
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal forecast request: %w", err)
	}

	var (
		value float64
		ok    bool
	)
	err = f.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		value, ok, callErr = f.call(ctx, payload)
		return callErr
	})
	if err != nil {
		return 0, false, fmt.Errorf("%s forecast failed: %w", f.name, err)
	}
	return value, ok, nil
}

type remoteStatusError struct {
	status int
	body   string
}

func (e *remoteStatusError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.status, e.body)
}

func (f *RemoteForecaster) call(ctx context.Context, payload []byte) (float64, bool, error) {
	var (
		value float64
		ok    bool
	)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				f.logger.WithError(err).Debug("Error closing response body")
			}
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			ok = false
			return nil
		case resp.StatusCode >= 500:
			return &remoteStatusError{status: resp.StatusCode, body: truncateText(string(body), 200)}
		case resp.StatusCode >= 400:
			return backoff.Permanent(&remoteStatusError{status: resp.StatusCode, body: truncateText(string(body), 200)})
		}

		var out remoteResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w", err))
		}
		if out.Prediction == nil {
			ok = false
			return nil
		}
		if math.IsNaN(*out.Prediction) || math.IsInf(*out.Prediction, 0) {
			return backoff.Permanent(fmt.Errorf("model server returned non-finite prediction"))
		}
		value, ok = *out.Prediction, true
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInitial
	policy.MaxElapsedTime = f.maxRetryElapsed

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return 0, false, err
	}
	return value, ok, nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
