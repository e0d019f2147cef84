package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx answer from the provider.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("market data provider error (%d): %s", e.StatusCode, e.Body)
}

// retryable reports whether the status is worth another attempt.
func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// intervals maps internal timeframe labels to provider intervals.
var intervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "60m",
	"1d":  "1d",
}

// Client is a chart and search HTTP client for a Yahoo-style quote provider.
type Client struct {
	HTTPClient *http.Client

	baseURL          string
	searchURL        string
	resolutionPeriod string
	limiter          *rate.Limiter
	maxRetryElapsed  time.Duration
	retryInitial     time.Duration
	logger           *logrus.Logger
	tracer           trace.Tracer
}

// NewClient creates a new market data client.
//
// Parameters:
//
//	cfg: Market data configuration.
//	logger: Logger for retries and dropped bars.
//
// Returns:
//
//	*Client: Initialized client.
func NewClient(cfg config.MarketDataConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 4 * time.Second
	}
	resolution := cfg.ResolutionPeriod
	if resolution == "" {
		resolution = "1d"
	}
	searchURL := cfg.SearchURL
	if searchURL == "" {
		searchURL = cfg.BaseURL
	}

	return &Client{
		HTTPClient:       &http.Client{Timeout: timeout},
		baseURL:          strings.TrimSuffix(cfg.BaseURL, "/"),
		searchURL:        strings.TrimSuffix(searchURL, "/"),
		resolutionPeriod: resolution,
		limiter:          rate.NewLimiter(limit, burst),
		maxRetryElapsed:  maxElapsed,
		retryInitial:     250 * time.Millisecond,
		logger:           logger,
		tracer:           telemetry.GetExternalTracer(),
	}
}

// GetCandles returns the OHLCV bars of instrument at timeframe over period,
// oldest first. Bars with a missing price are dropped.
func (c *Client) GetCandles(ctx context.Context, instrument, timeframe, period string) ([]models.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		interval = timeframe
	}

	q := url.Values{}
	q.Set("interval", interval)
	q.Set("range", period)
	q.Set("includePrePost", "false")
	endpoint := c.baseURL + "/v8/finance/chart/" + url.PathEscape(instrument) + "?" + q.Encode()

	var resp ChartResponse
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s %s", ErrUnavailable, instrument, timeframe)
		}
		return nil, err
	}

	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, instrument, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return []models.Candle{}, nil
	}

	return c.toCandles(instrument, timeframe, resp.Chart.Result[0]), nil
}

// GetLatestClose returns the most recent close of instrument at timeframe.
func (c *Client) GetLatestClose(ctx context.Context, instrument, timeframe string) (float64, error) {
	candles, err := c.GetCandles(ctx, instrument, timeframe, c.resolutionPeriod)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("%w: no bars for %s %s", ErrUnavailable, instrument, timeframe)
	}
	return candles[len(candles)-1].Close, nil
}

// GetHeadlines returns up to limit recent headlines about instrument.
func (c *Client) GetHeadlines(ctx context.Context, instrument string, limit int) ([]models.Headline, error) {
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", instrument)
	q.Set("newsCount", strconv.Itoa(limit))
	q.Set("quotesCount", "0")
	endpoint := c.searchURL + "/v1/finance/search?" + q.Encode()

	var resp SearchResponse
	if err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	headlines := make([]models.Headline, 0, len(resp.News))
	for _, item := range resp.News {
		if strings.TrimSpace(item.Title) == "" {
			continue
		}
		h := models.Headline{
			Title:     item.Title,
			Summary:   item.Summary,
			Publisher: item.Publisher,
		}
		if item.ProviderPublishTime > 0 {
			h.Published = time.Unix(item.ProviderPublishTime, 0).UTC()
		}
		headlines = append(headlines, h)
		if len(headlines) == limit {
			break
		}
	}
	return headlines, nil
}

func (c *Client) toCandles(instrument, timeframe string, result ChartResult) []models.Candle {
	candles := make([]models.Candle, 0, len(result.Timestamp))
	if len(result.Indicators.Quote) == 0 {
		return candles
	}
	q := result.Indicators.Quote[0]

	dropped := 0
	for i, ts := range result.Timestamp {
		open, okO := at(q.Open, i)
		high, okH := at(q.High, i)
		low, okL := at(q.Low, i)
		closePrice, okC := at(q.Close, i)
		if !okO || !okH || !okL || !okC {
			dropped++
			continue
		}
		volume, _ := at(q.Volume, i)
		candles = append(candles, models.Candle{
			Time:   time.Unix(ts, 0).UTC(),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	if dropped > 0 {
		c.logger.WithFields(logrus.Fields{
			"instrument": instrument,
			"timeframe":  timeframe,
			"dropped":    dropped,
		}).Debug("Dropped bars with missing prices")
	}
	return candles
}

func at(series []decimal.NullDecimal, i int) (float64, bool) {
	if i >= len(series) || !series[i].Valid {
		return 0, false
	}
	return series[i].Decimal.InexactFloat64(), true
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	ctx, span := c.tracer.Start(ctx, "marketdata.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", endpoint),
		),
	)
	defer span.End()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	attempts := 0
	operation := func() error {
		attempts++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "adaptive-ensemble/1.0")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to make request: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.WithError(err).Debug("Error closing response body")
			}
		}()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 400 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 200)}
			if statusErr.retryable() {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		respBody = data
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxElapsedTime = c.maxRetryElapsed

	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"url":  endpoint,
			"wait": wait.String(),
		}).Warn("Retrying market data request")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	span.SetAttributes(attribute.Int("http.attempts", attempts))
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
