package spatrace

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

const ms = time.Millisecond

// outcomes collects the interactions the agent reports.
type outcomes struct {
	saved     []*ixn.Interaction
	discarded []*ixn.Interaction
	errors    []ErrorReport
}

type testAgent struct {
	*Agent
	clock *clock.Manual
	out   *outcomes
	logs  *bytes.Buffer
}

// newTestAgent starts an agent on a manual clock. The page is already
// loaded unless opts say otherwise.
func newTestAgent(t *testing.T, opts ...Option) *testAgent {
	t.Helper()
	ta := newUnstartedAgent(t, append([]Option{WithPageLoaded()}, opts...)...)
	require.NoError(t, ta.Start())
	return ta
}

func newUnstartedAgent(t *testing.T, opts ...Option) *testAgent {
	t.Helper()
	sched := clock.NewManual()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	base := []Option{
		WithScheduler(sched),
		WithLogger(logger),
		WithURL("https://app.test/"),
		WithSessionID("test-session"),
	}
	a := New(append(base, opts...)...)

	out := &outcomes{}
	a.Bus().On(bus.InteractionSaved, func(_ *bus.Context, args []any) {
		out.saved = append(out.saved, args[0].(*ixn.Interaction))
	})
	a.Bus().On(bus.InteractionDiscarded, func(_ *bus.Context, args []any) {
		out.discarded = append(out.discarded, args[0].(*ixn.Interaction))
	})
	a.Bus().On(bus.ErrorAgg, func(_ *bus.Context, args []any) {
		out.errors = append(out.errors, args[0].(ErrorReport))
	})
	return &testAgent{Agent: a, clock: sched, out: out, logs: logs}
}

// click opens a user event callback and returns the context to close it
// with end.
func (ta *testAgent) click() *bus.Context {
	return ta.domEvent("click")
}

func (ta *testAgent) domEvent(typ string) *bus.Context {
	return ta.Bus().Emit(bus.FnStart, []any{&DOMEvent{Type: typ}}, nil)
}

func (ta *testAgent) end(c *bus.Context) {
	ta.Bus().Emit(bus.FnEnd, nil, c)
}

func (ta *testAgent) emitter(category string) *bus.Emitter {
	return ta.Bus().Get(category)
}

func okParams(host, path string) *ixn.AjaxParams {
	return &ixn.AjaxParams{Method: "GET", Host: host, Pathname: path, Status: 200}
}

// fakeMetrics records calls to MetricsRecorder.
type fakeMetrics struct {
	interactions []bool
	dropped      int
	internal     []string
}

func (f *fakeMetrics) RecordInteraction(_ context.Context, _ string, saved bool, _ time.Duration, _ int) {
	f.interactions = append(f.interactions, saved)
}

func (f *fakeMetrics) RecordNodesDropped(_ context.Context, _ string, count int) {
	f.dropped += count
}

func (f *fakeMetrics) RecordInternalError(_ context.Context, category string) {
	f.internal = append(f.internal, category)
}

func (f *fakeMetrics) RecordHarvest(_ context.Context, _ int, _ int64, _ error) {}
