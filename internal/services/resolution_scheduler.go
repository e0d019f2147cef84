package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/irfndi/adaptive-ensemble/internal/config"
	"github.com/irfndi/adaptive-ensemble/internal/database"
	"github.com/irfndi/adaptive-ensemble/internal/models"
	"github.com/irfndi/adaptive-ensemble/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// UnresolvedLister lists predictions whose horizon has elapsed.
type UnresolvedLister interface {
	ListUnresolved(ctx context.Context, now time.Time) ([]models.Prediction, error)
}

// PriceSource yields the realized price used to resolve a prediction.
type PriceSource interface {
	GetLatestClose(ctx context.Context, instrument, timeframe string) (float64, error)
}

// SweepResult summarizes one resolution sweep.
type SweepResult struct {
	Due      int           `json:"due"`
	Resolved int           `json:"resolved"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// ResolutionScheduler periodically resolves matured predictions against the
// latest realized price.
type ResolutionScheduler struct {
	lister   UnresolvedLister
	prices   PriceSource
	resolver PredictionResolver
	config   config.SchedulerConfig
	logger   *logrus.Logger
	tracer   *telemetry.BusinessTracer
	now      func() time.Time

	sweepMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResolutionScheduler creates a scheduler. Zero durations in cfg fall back
// to a 60 second interval and a 5 second fetch timeout.
func NewResolutionScheduler(lister UnresolvedLister, prices PriceSource, resolver PredictionResolver, cfg config.SchedulerConfig, logger *logrus.Logger) *ResolutionScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &ResolutionScheduler{
		lister:   lister,
		prices:   prices,
		resolver: resolver,
		config:   cfg,
		logger:   logger,
		tracer:   telemetry.NewBusinessTracer(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs an initial sweep and then one sweep per interval until ctx is
// cancelled or Stop is called.
func (s *ResolutionScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"interval":      s.config.Interval.String(),
		"fetch_timeout": s.config.FetchTimeout.String(),
	}).Info("Starting resolution scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.RunSweep(ctx)

		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunSweep(ctx)
			}
		}
	}()
}

// Stop halts the periodic sweeps and waits for an in-flight sweep to end.
func (s *ResolutionScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.logger.Info("Stopping resolution scheduler")
	cancel()
	s.wg.Wait()
}

type priceKey struct {
	instrument string
	timeframe  string
}

type priceResult struct {
	price float64
	err   error
}

// RunSweep resolves every matured prediction once. Sweeps never overlap.
// Missing prices are skipped and retried on the next tick.
func (s *ResolutionScheduler) RunSweep(ctx context.Context) SweepResult {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	start := time.Now()
	now := s.now()

	due, err := s.lister.ListUnresolved(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list unresolved predictions")
		return SweepResult{Error: err.Error(), Duration: time.Since(start)}
	}

	ctx, span := s.tracer.TraceSweep(ctx, len(due))
	defer span.End()

	var result SweepResult
	prices := make(map[priceKey]priceResult)

	for i := range due {
		p := due[i]
		if !p.Matured(now) {
			continue
		}
		result.Due++

		key := priceKey{instrument: p.Instrument, timeframe: p.Timeframe}
		pr, ok := prices[key]
		if !ok {
			pr = s.fetchPrice(ctx, key)
			prices[key] = pr
		}

		entry := s.logger.WithFields(logrus.Fields{
			"prediction_id": p.ID,
			"instrument":    p.Instrument,
			"timeframe":     p.Timeframe,
			"model":         p.Model,
		})

		if pr.err != nil {
			entry.WithError(pr.err).Warn("No realized price, skipping prediction")
			result.Skipped++
			continue
		}

		if _, err := s.resolver.Resolve(ctx, p.ID, pr.price); err != nil {
			if errors.Is(err, database.ErrAlreadyResolved) || errors.Is(err, database.ErrNotFound) {
				entry.WithError(err).Debug("Prediction no longer open, skipping")
				result.Skipped++
				continue
			}
			entry.WithError(err).Error("Failed to resolve prediction")
			result.Failed++
			continue
		}
		result.Resolved++

		if ctx.Err() != nil {
			break
		}
	}

	result.Duration = time.Since(start)
	s.tracer.RecordSweep(span, telemetry.SweepSummary{
		Resolved: result.Resolved,
		Skipped:  result.Skipped,
		Failed:   result.Failed,
		Duration: result.Duration,
	})

	if result.Due > 0 {
		s.logger.WithFields(logrus.Fields{
			"due":         result.Due,
			"resolved":    result.Resolved,
			"skipped":     result.Skipped,
			"failed":      result.Failed,
			"duration_ms": result.Duration.Milliseconds(),
		}).Info("Resolution sweep completed")
	}
	return result
}

func (s *ResolutionScheduler) fetchPrice(ctx context.Context, key priceKey) priceResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	price, err := s.prices.GetLatestClose(fetchCtx, key.instrument, key.timeframe)
	if err != nil {
		return priceResult{err: err}
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return priceResult{err: errInvalidPrice}
	}
	return priceResult{price: price}
}

var errInvalidPrice = errors.New("realized price is not a positive finite number")
