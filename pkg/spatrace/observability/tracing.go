package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

// Tracer is the spatrace tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("spatrace")

// SpanManager turns engine activity into trace spans.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// ExportInteraction replays a finished interaction tree as spans: one
	// root span plus a child span per attached node, stamped with the
	// node's own start and end. origin is the wall time of offset zero.
	ExportInteraction(ctx context.Context, origin time.Time, i *ixn.Interaction)

	// StartHarvestSpan starts a span around one harvest send.
	StartHarvestSpan(ctx context.Context, batchID string, records int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) ExportInteraction(ctx context.Context, origin time.Time, i *ixn.Interaction) {
	if i == nil || !i.Finished() {
		return
	}
	exportNode(ctx, origin, i.Root(), i)
}

func exportNode(ctx context.Context, origin time.Time, n *ixn.Node, i *ixn.Interaction) {
	name := "spatrace.node." + string(n.Type())
	if n == i.Root() {
		name = "spatrace.interaction"
	}

	ctx, span := tracer.Start(ctx, name,
		trace.WithTimestamp(origin.Add(n.Start())),
		trace.WithAttributes(nodeAttributes(n, i)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	for _, c := range n.Children() {
		exportNode(ctx, origin, c, i)
	}
	span.End(trace.WithTimestamp(origin.Add(n.End())))
}

func nodeAttributes(n *ixn.Node, i *ixn.Interaction) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("node.id", n.ID()),
		attribute.String("node.type", string(n.Type())),
		attribute.Float64("node.js_time_ms", clock.Millis(n.JSTime())),
		attribute.Float64("node.js_end_ms", clock.Millis(n.JSEnd())),
	}

	a := n.Attrs
	if n == i.Root() {
		attrs = append(attrs,
			attribute.Int64("interaction.id", i.ID()),
			attribute.String("interaction.trigger", a.Trigger),
			attribute.String("interaction.old_url", a.OldURL),
			attribute.String("interaction.new_url", a.NewURL),
			attribute.Bool("interaction.route_change", i.RouteChange()),
		)
		if a.CustomName != "" {
			attrs = append(attrs, attribute.String("interaction.custom_name", a.CustomName))
		}
	}
	if a.Name != "" {
		attrs = append(attrs, attribute.String("node.name", a.Name))
	}
	if p := a.Params; p != nil {
		attrs = append(attrs,
			attribute.String("http.method", p.Method),
			attribute.String("http.host", p.Host),
			attribute.String("http.path", p.Pathname),
			attribute.Int("http.status_code", p.Status),
			attribute.Bool("http.fetch", a.IsFetch),
		)
	}
	return attrs
}

func (m *otelSpanManager) StartHarvestSpan(ctx context.Context, batchID string, records int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "spatrace.harvest",
		trace.WithAttributes(
			attribute.String("harvest.batch_id", batchID),
			attribute.Int("harvest.records", records),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
