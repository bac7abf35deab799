package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome classifies how a dispatch ended.
type Outcome string

const (
	// OutcomeSuccess indicates the handler produced the output without failure.
	OutcomeSuccess Outcome = "success"
	// OutcomeRecovered indicates a failure was absorbed by an error handler.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeFailed indicates the failure reached the dispatcher's caller.
	OutcomeFailed Outcome = "failed"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	requestCounter   metric.Int64Counter
	recoveryCounter  metric.Int64Counter
	failureCounter   metric.Int64Counter
	latencyHistogram metric.Float64Histogram
)

// DispatchMetrics captures the fields needed to record one dispatch.
type DispatchMetrics struct {
	Route string
	// Stage is the pipeline stage that failed; empty on success.
	Stage    string
	Outcome  Outcome
	Duration time.Duration
}

// RecordDispatchMetrics emits counters and a latency histogram for one dispatch.
func RecordDispatchMetrics(ctx context.Context, m DispatchMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	route := m.Route
	if route == "" {
		route = "unmatched"
	}
	attrs := []attribute.KeyValue{
		attribute.String("dispatch.route", route),
		attribute.String("dispatch.outcome", string(m.Outcome)),
	}

	requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	stageAttrs := append(attrs, attribute.String("dispatch.stage", m.Stage))
	switch m.Outcome {
	case OutcomeRecovered:
		recoveryCounter.Add(ctx, 1, metric.WithAttributes(stageAttrs...))
	case OutcomeFailed:
		failureCounter.Add(ctx, 1, metric.WithAttributes(stageAttrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis.dispatch")

		requestCounter, metricsInitErr = meter.Int64Counter(
			"dispatch.requests_total",
			metric.WithDescription("Dispatched requests partitioned by route and outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		recoveryCounter, metricsInitErr = meter.Int64Counter(
			"dispatch.recoveries_total",
			metric.WithDescription("Failures absorbed by an error handler"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		failureCounter, metricsInitErr = meter.Int64Counter(
			"dispatch.failures_total",
			metric.WithDescription("Failures returned to the dispatcher's caller"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"dispatch.duration_ms",
			metric.WithDescription("Observed end-to-end dispatch latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
