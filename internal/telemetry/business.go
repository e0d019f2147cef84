package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer wraps domain spans for decision passes and resolution sweeps.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a BusinessTracer on the global provider.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetTracer(ServiceName + "/business")}
}

// DecisionSummary is the outcome of a decision pass recorded onto its span.
type DecisionSummary struct {
	Action         string
	Confidence     float64
	Combined       float64
	IndicatorScore float64
	NumericScore   float64
	SentimentScore float64
	Recorded       int
}

// SweepSummary is the outcome of a resolution sweep recorded onto its span.
type SweepSummary struct {
	Resolved int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// TraceDecision starts a span for a decision pass.
//
// Parameters:
//   - ctx: Parent context.
//   - instrument: The instrument being decided.
//   - timeframes: Timeframes contributing forecasts.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceDecision(ctx context.Context, instrument string, timeframes []string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "ensemble.decide",
		trace.WithAttributes(
			attribute.String("ensemble.instrument", instrument),
			attribute.StringSlice("ensemble.timeframes", timeframes),
		),
	)
}

// RecordDecision adds the decision outcome to span.
func (bt *BusinessTracer) RecordDecision(span trace.Span, s DecisionSummary) {
	span.SetAttributes(
		attribute.String("ensemble.action", s.Action),
		attribute.Float64("ensemble.confidence", s.Confidence),
		attribute.Float64("ensemble.combined", s.Combined),
		attribute.Float64("ensemble.indicator_score", s.IndicatorScore),
		attribute.Float64("ensemble.numeric_score", s.NumericScore),
		attribute.Float64("ensemble.sentiment_score", s.SentimentScore),
		attribute.Int("ensemble.recorded", s.Recorded),
	)
}

// TraceSweep starts a span for one resolution sweep.
func (bt *BusinessTracer) TraceSweep(ctx context.Context, due int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "scheduler.sweep",
		trace.WithAttributes(attribute.Int("sweep.due", due)),
	)
}

// RecordSweep adds the sweep tallies to span. Failures mark the span as errored.
func (bt *BusinessTracer) RecordSweep(span trace.Span, s SweepSummary) {
	span.SetAttributes(
		attribute.Int("sweep.resolved", s.Resolved),
		attribute.Int("sweep.skipped", s.Skipped),
		attribute.Int("sweep.failed", s.Failed),
		attribute.Int64("sweep.duration_ms", s.Duration.Milliseconds()),
	)
	if s.Failed > 0 {
		span.SetStatus(codes.Error, "sweep had failures")
	}
}

// TraceForecast starts a span around a single model forecast.
func (bt *BusinessTracer) TraceForecast(ctx context.Context, model, instrument, timeframe string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "forecast."+model,
		trace.WithAttributes(
			attribute.String("forecast.model", model),
			attribute.String("forecast.instrument", instrument),
			attribute.String("forecast.timeframe", timeframe),
		),
	)
}
