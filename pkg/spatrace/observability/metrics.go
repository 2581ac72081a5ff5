package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordInteraction records a finished interaction and whether it was saved.
	RecordInteraction(ctx context.Context, trigger string, saved bool, duration time.Duration, nodes int)

	// RecordNodesDropped records children refused by the node limit.
	RecordNodesDropped(ctx context.Context, trigger string, count int)

	// RecordInternalError records a recovered instrumentation failure.
	RecordInternalError(ctx context.Context, category string)

	// RecordHarvest records one harvest attempt.
	RecordHarvest(ctx context.Context, records int, sizeBytes int64, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	interactions    metric.Int64Counter
	interactionTime metric.Float64Histogram
	interactionSize metric.Int64Histogram
	nodesDropped    metric.Int64Counter
	internalErrors  metric.Int64Counter
	harvests        metric.Int64Counter
	harvestSize     metric.Int64Histogram
	harvestErrors   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("spatrace")

	interactions, err := meter.Int64Counter("spatrace.interaction.count",
		metric.WithDescription("Number of finished interactions"),
	)
	if err != nil {
		return nil, err
	}

	interactionTime, err := meter.Float64Histogram("spatrace.interaction.duration_ms",
		metric.WithDescription("Interaction duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	interactionSize, err := meter.Int64Histogram("spatrace.interaction.nodes",
		metric.WithDescription("Nodes per finished interaction"),
	)
	if err != nil {
		return nil, err
	}

	nodesDropped, err := meter.Int64Counter("spatrace.nodes.dropped",
		metric.WithDescription("Nodes refused by the per-interaction limit"),
	)
	if err != nil {
		return nil, err
	}

	internalErrors, err := meter.Int64Counter("spatrace.internal_errors",
		metric.WithDescription("Recovered instrumentation failures"),
	)
	if err != nil {
		return nil, err
	}

	harvests, err := meter.Int64Counter("spatrace.harvest.records",
		metric.WithDescription("Records sent by the harvester"),
	)
	if err != nil {
		return nil, err
	}

	harvestSize, err := meter.Int64Histogram("spatrace.harvest.size_bytes",
		metric.WithDescription("Harvest payload size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	harvestErrors, err := meter.Int64Counter("spatrace.harvest.errors",
		metric.WithDescription("Failed harvest attempts"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		interactions:    interactions,
		interactionTime: interactionTime,
		interactionSize: interactionSize,
		nodesDropped:    nodesDropped,
		internalErrors:  internalErrors,
		harvests:        harvests,
		harvestSize:     harvestSize,
		harvestErrors:   harvestErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordInteraction(ctx context.Context, trigger string, saved bool, duration time.Duration, nodes int) {
	outcome := "discarded"
	if saved {
		outcome = "saved"
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("outcome", outcome),
	)

	m.interactions.Add(ctx, 1, attrs)
	m.interactionTime.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.interactionSize.Record(ctx, int64(nodes), attrs)
}

func (m *otelMetrics) RecordNodesDropped(ctx context.Context, trigger string, count int) {
	if count <= 0 {
		return
	}
	m.nodesDropped.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("trigger", trigger),
	))
}

func (m *otelMetrics) RecordInternalError(ctx context.Context, category string) {
	m.internalErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

func (m *otelMetrics) RecordHarvest(ctx context.Context, records int, sizeBytes int64, err error) {
	if err != nil {
		m.harvestErrors.Add(ctx, 1)
		return
	}
	m.harvests.Add(ctx, int64(records))
	m.harvestSize.Record(ctx, sizeBytes)
}
