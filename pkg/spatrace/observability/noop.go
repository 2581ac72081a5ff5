package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordInteraction does nothing.
func (NoopMetrics) RecordInteraction(_ context.Context, _ string, _ bool, _ time.Duration, _ int) {}

// RecordNodesDropped does nothing.
func (NoopMetrics) RecordNodesDropped(_ context.Context, _ string, _ int) {}

// RecordInternalError does nothing.
func (NoopMetrics) RecordInternalError(_ context.Context, _ string) {}

// RecordHarvest does nothing.
func (NoopMetrics) RecordHarvest(_ context.Context, _ int, _ int64, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// ExportInteraction does nothing.
func (NoopSpanManager) ExportInteraction(_ context.Context, _ time.Time, _ *ixn.Interaction) {}

// StartHarvestSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartHarvestSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}
