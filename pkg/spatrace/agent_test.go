package spatrace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
	"github.com/randalmurphal/spatrace/pkg/spatrace/config"
	"github.com/randalmurphal/spatrace/pkg/spatrace/harvest"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

func TestClickFetchSave(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.click()
	i := ta.Current().Interaction()
	require.NotNil(t, i)
	assert.Equal(t, "click", i.Trigger())

	ta.Interaction().SetAttribute("plan", "pro").Save()

	fetch := ta.emitter(bus.CategoryFetch)
	fc := fetch.Emit(bus.FetchStart, []any{&ixn.AjaxParams{Method: "POST", Host: "api.test", Pathname: "/cart"}}, nil)
	ta.end(c)
	assert.Nil(t, ta.Current())

	ta.clock.Flush()
	assert.False(t, i.Finished(), "fetch still pending")

	ta.clock.Advance(50 * ms)
	fetch.Emit(bus.FetchDone, []any{nil, okParams("api.test", "/cart"), &ixn.AjaxMetrics{RxSize: 512}}, fc)
	assert.False(t, i.Finished())

	ta.clock.Tick()
	assert.False(t, i.Finished(), "finish needs a second deferred tick")
	ta.clock.Tick()
	require.True(t, i.Finished())

	require.Len(t, ta.out.saved, 1)
	assert.Empty(t, ta.out.discarded)
	assert.Same(t, i, ta.out.saved[0])

	root := i.Root()
	assert.Equal(t, "pro", root.Attrs.Custom["plan"])
	assert.Equal(t, 50*ms, root.End())
	require.Len(t, root.Children(), 1)
	ajax := root.Children()[0]
	assert.Equal(t, ixn.TypeAjax, ajax.Type())
	assert.True(t, ajax.Attrs.IsFetch)
	assert.Equal(t, 200, ajax.Attrs.Params.Status)
	assert.Equal(t, int64(512), ajax.Attrs.Metrics.RxSize)
}

func TestExclusiveTime(t *testing.T) {
	ta := newTestAgent(t)

	a := ta.click()
	h := ta.Interaction()
	ta.clock.Elapse(10 * ms)

	var nodeB, nodeC *ixn.Node
	runB := h.CreateTracer("B", func() {
		nodeB = ta.Current()
		ta.clock.Elapse(5 * ms)
		runC := h.CreateTracer("C", func() {
			nodeC = ta.Current()
			ta.clock.Elapse(20 * ms)
		})
		runC()
		ta.clock.Elapse(5 * ms)
	})
	runB()
	ta.clock.Elapse(10 * ms)
	ta.end(a)
	assert.Zero(t, ta.Depth())

	i := h.Interaction()
	require.NotNil(t, i)
	ta.clock.Flush()
	require.True(t, i.Finished())

	root := i.Root()
	require.NotNil(t, nodeB)
	require.NotNil(t, nodeC)
	assert.Equal(t, "B", nodeB.Attrs.Name)
	assert.Equal(t, ixn.TypeCustomTracer, nodeC.Type())

	assert.Equal(t, 20*ms, nodeC.JSTime())
	assert.Equal(t, 10*ms, nodeB.JSTime())
	assert.Equal(t, 20*ms, root.JSTime())
	assert.Equal(t, root.End()-root.Start(), root.JSTime()+nodeB.JSTime()+nodeC.JSTime())

	require.Equal(t, []*ixn.Node{nodeB}, root.Children())
	assert.Equal(t, []*ixn.Node{nodeC}, nodeB.Children())
}

func TestDiscardedWithoutSaveOrRouteChange(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.click()
	ta.end(c)
	ta.clock.Flush()

	assert.Empty(t, ta.out.saved)
	require.Len(t, ta.out.discarded, 1)
	assert.Equal(t, ixn.StateDiscarded, ta.out.discarded[0].State())
}

func TestNonInteractionEventIgnored(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.domEvent("mousemove")
	assert.Nil(t, ta.Current())
	assert.Equal(t, 1, ta.Depth())
	ta.end(c)
	assert.Zero(t, ta.Depth())
}

func TestNestedEventJoinsCurrentInteraction(t *testing.T) {
	ta := newTestAgent(t)

	outer := ta.click()
	i := ta.Current().Interaction()
	inner := ta.domEvent("submit")
	assert.Same(t, i, ta.Current().Interaction())
	ta.end(inner)
	ta.end(outer)

	ta.clock.Flush()
	assert.Len(t, ta.out.discarded, 1)
}

func TestHistoryRouteChange(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.click()
	ta.emitter(bus.CategoryHistory).Emit(bus.PushStateEnd, []any{"https://app.test/cart"}, nil)
	ta.end(c)
	ta.clock.Flush()

	require.Len(t, ta.out.saved, 1)
	i := ta.out.saved[0]
	assert.True(t, i.RouteChange())
	assert.Equal(t, "https://app.test/", i.Root().Attrs.OldURL)
	assert.Equal(t, "https://app.test/cart", i.Root().Attrs.NewURL)
	assert.Equal(t, "https://app.test/cart", ta.URL())
}

func TestHistorySameURLIsNotRouteChange(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.click()
	ta.emitter(bus.CategoryHistory).Emit(bus.ReplaceStateEnd, []any{"https://app.test/"}, nil)
	ta.end(c)
	ta.clock.Flush()

	assert.Empty(t, ta.out.saved)
	assert.Len(t, ta.out.discarded, 1)
}

func TestHashChangeRestoresNode(t *testing.T) {
	ta := newTestAgent(t)
	history := ta.emitter(bus.CategoryHistory)
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	history.Emit(bus.NewURL, []any{"https://app.test/#details", true}, nil)
	ta.end(c)

	hc := ta.domEvent("hashchange")
	require.NotNil(t, ta.Current())
	assert.Same(t, i, ta.Current().Interaction())
	fc := fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/details")}, nil)
	ta.end(hc)

	ta.clock.Flush()
	assert.False(t, i.Finished())

	fetch.Emit(bus.FetchDone, []any{nil}, fc)
	ta.clock.Flush()
	require.Len(t, ta.out.saved, 1)
	assert.Len(t, i.Root().Children(), 1)
}

func TestTimers(t *testing.T) {
	t.Run("awaited timer keeps interaction open", func(t *testing.T) {
		ta := newTestAgent(t)
		timer := ta.emitter(bus.CategoryTimer)

		c := ta.click()
		i := ta.Current().Interaction()
		tc := timer.Emit(bus.SetTimeoutEnd, []any{100 * ms, int64(1)}, nil)
		ta.end(c)

		ta.clock.Flush()
		assert.False(t, i.Finished())
		assert.Equal(t, 1, i.Remaining())

		ta.clock.Advance(100 * ms)
		timer.Emit(bus.FnStart, nil, tc)
		assert.Same(t, i.Root(), ta.Current())
		ta.clock.Elapse(3 * ms)
		timer.Emit(bus.FnEnd, nil, tc)

		ta.clock.Flush()
		require.True(t, i.Finished())
		assert.Equal(t, 103*ms, i.Root().End())
		assert.Equal(t, 3*ms, i.Root().JSTime())
	})

	t.Run("timer over budget is not awaited", func(t *testing.T) {
		ta := newTestAgent(t)
		timer := ta.emitter(bus.CategoryTimer)

		c := ta.click()
		i := ta.Current().Interaction()
		timer.Emit(bus.SetTimeoutEnd, []any{2 * time.Second, int64(1)}, nil)
		ta.end(c)

		ta.clock.Flush()
		assert.True(t, i.Finished())
	})

	t.Run("budget is shared across timers", func(t *testing.T) {
		ta := newTestAgent(t)
		timer := ta.emitter(bus.CategoryTimer)

		c := ta.click()
		i := ta.Current().Interaction()
		timer.Emit(bus.SetTimeoutEnd, []any{600 * ms, int64(1)}, nil)
		timer.Emit(bus.SetTimeoutEnd, []any{600 * ms, int64(2)}, nil)
		ta.end(c)

		assert.Equal(t, 1, i.Remaining())
	})

	t.Run("cleared timer releases interaction", func(t *testing.T) {
		ta := newTestAgent(t)
		timer := ta.emitter(bus.CategoryTimer)

		c := ta.click()
		i := ta.Current().Interaction()
		timer.Emit(bus.SetTimeoutEnd, []any{100 * ms, int64(9)}, nil)
		timer.Emit(bus.ClearTimeoutStart, []any{int64(9)}, nil)
		timer.Emit(bus.ClearTimeoutStart, []any{int64(9)}, nil)
		ta.end(c)

		assert.Zero(t, i.Remaining())
		ta.clock.Flush()
		assert.True(t, i.Finished())
	})

	t.Run("timer callback work joins interaction", func(t *testing.T) {
		ta := newTestAgent(t)
		timer := ta.emitter(bus.CategoryTimer)
		fetch := ta.emitter(bus.CategoryFetch)

		c := ta.click()
		ta.Interaction().Save()
		i := ta.Current().Interaction()
		tc := timer.Emit(bus.SetTimeoutEnd, []any{10 * ms, int64(1)}, nil)
		ta.end(c)

		ta.clock.Advance(10 * ms)
		timer.Emit(bus.FnStart, nil, tc)
		fc := fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/later")}, nil)
		timer.Emit(bus.FnEnd, nil, tc)

		ta.clock.Flush()
		assert.False(t, i.Finished())

		fetch.Emit(bus.FetchDone, []any{nil}, fc)
		ta.clock.Flush()
		require.Len(t, ta.out.saved, 1)
		assert.Len(t, i.Root().Children(), 1)
	})
}

func TestXHR(t *testing.T) {
	t.Run("resolved request becomes ajax child", func(t *testing.T) {
		ta := newTestAgent(t)
		xhr := ta.emitter(bus.CategoryXHR)

		c := ta.click()
		ta.Interaction().Save()
		i := ta.Current().Interaction()
		xc := xhr.Emit(bus.NewXHR, nil, nil)
		assert.Zero(t, i.Remaining(), "not awaited until sent")
		xhr.Emit(bus.SendXHRStart, nil, xc)
		assert.Equal(t, 1, i.Remaining())
		ta.end(c)

		ta.clock.Advance(20 * ms)
		xhr.Emit(bus.FnStart, nil, xc)
		require.NotNil(t, ta.Current())
		assert.Equal(t, ixn.TypeAjax, ta.Current().Type())
		xhr.Emit(bus.FnEnd, nil, xc)

		xhr.Emit(bus.XHRResolved, []any{okParams("api.test", "/items"), &ixn.AjaxMetrics{TxSize: 12}, 25 * ms}, xc)
		ta.clock.Flush()

		require.Len(t, ta.out.saved, 1)
		require.Len(t, i.Root().Children(), 1)
		ajax := i.Root().Children()[0]
		assert.Equal(t, "/items", ajax.Attrs.Params.Pathname)
		assert.Equal(t, 25*ms, ajax.End())
		assert.False(t, ajax.Attrs.IsFetch)
	})

	t.Run("status zero cancels", func(t *testing.T) {
		ta := newTestAgent(t)
		xhr := ta.emitter(bus.CategoryXHR)

		c := ta.click()
		i := ta.Current().Interaction()
		xc := xhr.Emit(bus.NewXHR, nil, nil)
		xhr.Emit(bus.SendXHRStart, nil, xc)
		ta.end(c)

		xhr.Emit(bus.XHRResolved, []any{&ixn.AjaxParams{Host: "api.test"}}, xc)
		ta.clock.Flush()

		require.True(t, i.Finished())
		assert.Empty(t, i.Root().Children())
		assert.Contains(t, ta.logs.String(), "malformed response")
	})
}

func TestDenyListCancelsRequest(t *testing.T) {
	settings := config.DefaultSettings()
	settings.DenyList = []string{"collector.test"}
	ta := newTestAgent(t, WithSettings(settings))
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	fc := fetch.Emit(bus.FetchStart, []any{okParams("collector.test", "/events")}, nil)
	ta.end(c)

	fetch.Emit(bus.FetchDone, []any{nil}, fc)
	ta.clock.Flush()

	require.True(t, i.Finished())
	assert.Empty(t, i.Root().Children())
}

func TestFetchErrorCancels(t *testing.T) {
	ta := newTestAgent(t)
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	fc := fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/x")}, nil)
	ta.end(c)

	fetch.Emit(bus.FetchDone, []any{errors.New("network down")}, fc)
	ta.clock.Flush()

	require.True(t, i.Finished())
	assert.Empty(t, i.Root().Children())
}

func TestFetchBodyHoldsInteraction(t *testing.T) {
	ta := newTestAgent(t)
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	bc := fetch.Emit(bus.FetchBodyStart, nil, nil)
	ta.end(c)

	ta.clock.Flush()
	assert.False(t, i.Finished())

	ta.clock.Advance(7 * ms)
	fetch.Emit(bus.FetchBodyEnd, nil, bc)
	ta.clock.Flush()
	require.True(t, i.Finished())
	assert.Equal(t, 7*ms, i.Root().End())
}

func TestJSONP(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ta := newTestAgent(t)
		jsonp := ta.emitter(bus.CategoryJSONP)

		c := ta.click()
		ta.Interaction().Save()
		i := ta.Current().Interaction()
		jc := jsonp.Emit(bus.NewJSONP, []any{"https://cdn.test/data.js?cb=x"}, nil)
		ta.end(c)

		ta.clock.Advance(30 * ms)
		jsonp.Emit(bus.CbStart, nil, jc)
		assert.Equal(t, ixn.TypeAjax, ta.Current().Type())
		jsonp.Emit(bus.CbEnd, nil, jc)
		jsonp.Emit(bus.JSONPEnd, []any{30 * ms}, jc)
		ta.clock.Flush()

		require.Len(t, ta.out.saved, 1)
		require.Len(t, i.Root().Children(), 1)
		p := i.Root().Children()[0].Attrs.Params
		assert.Equal(t, "cdn.test", p.Host)
		assert.Equal(t, "/data.js", p.Pathname)
		assert.Equal(t, 200, p.Status)
	})

	t.Run("error cancels", func(t *testing.T) {
		ta := newTestAgent(t)
		jsonp := ta.emitter(bus.CategoryJSONP)

		c := ta.click()
		i := ta.Current().Interaction()
		jc := jsonp.Emit(bus.NewJSONP, []any{"https://cdn.test/data.js"}, nil)
		ta.end(c)
		jsonp.Emit(bus.JSONPError, nil, jc)
		ta.clock.Flush()

		require.True(t, i.Finished())
		assert.Empty(t, i.Root().Children())
	})
}

func TestPromiseCallbackRestoresNode(t *testing.T) {
	ta := newTestAgent(t)
	promise := ta.emitter(bus.CategoryPromise)
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	pc := promise.Emit(bus.NewPromise, nil, nil)
	fc := fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/a")}, nil)
	ta.end(c)
	assert.Nil(t, ta.Current())

	fetch.Emit(bus.FetchDone, []any{nil}, fc)
	promise.Emit(bus.CbStart, nil, pc)
	assert.Same(t, i.Root(), ta.Current())
	fc2 := fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/b")}, nil)
	promise.Emit(bus.CbEnd, nil, pc)

	ta.clock.Flush()
	assert.False(t, i.Finished())
	fetch.Emit(bus.FetchDone, []any{nil}, fc2)
	ta.clock.Flush()
	require.True(t, i.Finished())
	assert.Len(t, i.Root().Children(), 2)
}

func TestScriptInsertionHoldsInteraction(t *testing.T) {
	ta := newTestAgent(t)
	dom := ta.emitter(bus.CategoryDOM)

	c := ta.click()
	i := ta.Current().Interaction()
	dom.Emit(bus.DOMStart, []any{&Element{TagName: "DIV"}}, nil)
	sc := dom.Emit(bus.DOMStart, []any{&Element{TagName: "SCRIPT", Src: "/chunk.js"}}, nil)
	ta.end(c)

	ta.clock.Flush()
	assert.False(t, i.Finished())

	dom.Emit(bus.ScriptLoad, nil, sc)
	ta.clock.Flush()
	assert.True(t, i.Finished())
}

func TestClickActionText(t *testing.T) {
	ta := newTestAgent(t)

	c := ta.Bus().Emit(bus.FnStart, []any{&DOMEvent{Type: "click", Target: &Element{TagName: "BUTTON", Text: "  Add\n to   cart "}}}, nil)
	i := ta.Current().Interaction()
	ta.end(c)

	assert.Equal(t, "Add to cart", i.Root().Attrs.Custom["actionText"])
}

func TestInitialPageLoad(t *testing.T) {
	ta := newUnstartedAgent(t)

	// Calls made before Start are buffered and replayed onto the page load.
	h := ta.Interaction()
	h.SetAttribute("early", true)
	ta.Bus().Emit(bus.FeatureSPA, nil, nil)
	require.NoError(t, ta.Start())

	i := h.Interaction()
	require.NotNil(t, i)
	assert.Equal(t, TriggerInitialPageLoad, i.Trigger())
	assert.True(t, ta.featureLoaded)

	ta.clock.Flush()
	assert.False(t, i.Finished(), "waits for load")

	ta.Bus().Emit(bus.Load, []any{120 * ms}, nil)
	ta.clock.Flush()

	require.Len(t, ta.out.saved, 1)
	assert.Same(t, i, ta.out.saved[0])
	assert.Equal(t, true, i.Root().Attrs.Custom["early"])
	assert.Equal(t, 120*ms, i.Root().End())
	assert.Equal(t, "https://app.test/", i.Root().Attrs.InitialPageURL)
	assert.Nil(t, ta.Current())

	// popstate starts interactions once the page has loaded.
	c := ta.domEvent("popstate")
	require.NotNil(t, ta.Current())
	assert.Equal(t, "popstate", ta.Current().Interaction().Trigger())
	ta.end(c)
}

func TestStart(t *testing.T) {
	ta := newTestAgent(t)
	assert.ErrorIs(t, ta.Start(), ErrAlreadyStarted)

	settings := config.DefaultSettings()
	settings.Enabled = false
	disabled := New(WithSettings(settings))
	assert.ErrorIs(t, disabled.Start(), ErrDisabled)

	settings = config.DefaultSettings()
	settings.HarvestBatch = 0
	invalid := New(WithSettings(settings))
	assert.ErrorIs(t, invalid.Start(), config.ErrInvalidSettings)
}

func TestAbort(t *testing.T) {
	t.Run("feature never loaded", func(t *testing.T) {
		ta := newUnstartedAgent(t)
		ta.Interaction().Save()

		timer := ta.ScheduleAbort()
		require.NotNil(t, timer)
		ta.clock.Advance(config.DefaultAbortAfter)

		assert.True(t, ta.Bus().Aborted())
		assert.Contains(t, ta.logs.String(), "event bus aborted")

		// Non-forced emissions are dropped.
		ta.Bus().Emit(bus.InteractionSaved, []any{(*ixn.Interaction)(nil)}, nil)
		assert.Empty(t, ta.out.saved)
	})

	t.Run("started agent is not aborted", func(t *testing.T) {
		ta := newUnstartedAgent(t)
		ta.Interaction().Save()
		require.NoError(t, ta.Start())

		ta.Abort()
		assert.False(t, ta.Bus().Aborted())
	})
}

func TestGlobalAttributes(t *testing.T) {
	settings := config.DefaultSettings()
	settings.CustomAttributes = map[string]any{"release": "1.2", "tier": "free"}
	ta := newTestAgent(t, WithSettings(settings))
	ta.SetCustomAttribute("user", "u-1")

	c := ta.click()
	h := ta.Interaction().SetAttribute("tier", "gold").Save()
	ta.end(c)
	ta.clock.Flush()

	custom := h.Interaction().Root().Attrs.Custom
	assert.Equal(t, "1.2", custom["release"])
	assert.Equal(t, "u-1", custom["user"])
	assert.Equal(t, "gold", custom["tier"])
}

func TestInternalErrorFromTracer(t *testing.T) {
	m := &fakeMetrics{}
	ta := newTestAgent(t, WithMetrics(m))

	c := ta.click()
	h := ta.Interaction()
	run := h.CreateTracer("boom", func() { panic("render failed") })
	assert.NotPanics(t, run)
	ta.end(c)
	ta.clock.Flush()

	assert.Equal(t, []string{"host"}, m.internal)
	assert.Contains(t, ta.logs.String(), "instrumentation failed")

	i := h.Interaction()
	require.True(t, i.Finished())
	require.Len(t, i.Root().Children(), 1)
	assert.Equal(t, "boom", i.Root().Children()[0].Attrs.Name)
	assert.Equal(t, []bool{false}, m.interactions)
	assert.Zero(t, ta.Depth())
}

func TestNodeCapRecordsDrops(t *testing.T) {
	m := &fakeMetrics{}
	ta := newTestAgent(t, WithMetrics(m))
	fetch := ta.emitter(bus.CategoryFetch)

	c := ta.click()
	i := ta.Current().Interaction()
	var ctxs []*bus.Context
	for range ixn.MaxNodes + 2 {
		ctxs = append(ctxs, fetch.Emit(bus.FetchStart, []any{okParams("api.test", "/n")}, nil))
	}
	ta.end(c)
	for _, fc := range ctxs {
		fetch.Emit(bus.FetchDone, []any{nil}, fc)
	}
	ta.clock.Flush()

	require.True(t, i.Finished())
	assert.Len(t, i.Root().Children(), ixn.MaxNodes)
	assert.Equal(t, 2, m.dropped)
	assert.Contains(t, ta.logs.String(), "node limit")
}

func TestHarvestSavedInteractions(t *testing.T) {
	store := harvest.NewMemoryStore()
	var batches []harvest.Batch
	h := harvest.NewHarvester(store, harvest.SenderFunc(func(_ context.Context, b harvest.Batch) error {
		batches = append(batches, b)
		return nil
	}), harvest.WithSessionID("harvest-session"))

	ta := newTestAgent(t, WithHarvester(h), WithSessionID(""))
	assert.Equal(t, "harvest-session", ta.SessionID())

	c := ta.click()
	ta.Interaction().Save()
	ta.end(c)
	ta.clock.Flush()

	c = ta.click()
	ta.end(c)
	ta.clock.Flush()

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only saved interactions are queued")

	sent, err := h.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, batches, 1)

	p, err := harvest.Unmarshal(batches[0].Interactions[0])
	require.NoError(t, err)
	assert.Equal(t, "harvest-session", p.SessionID)
	assert.Equal(t, "click", p.Root.Attrs.Trigger)
}

func TestHandlerTable(t *testing.T) {
	a := New(WithScheduler(nil))
	for _, sub := range subscriptions {
		for _, typ := range sub.types {
			assert.NotNil(t, a.handler(sub.category, typ), "%q %s", sub.category, typ)
		}
	}
	for _, typ := range []bus.Type{bus.InteractionSaved, bus.InteractionDiscarded, bus.ErrorAgg, bus.TypeUnknown} {
		assert.Nil(t, a.handler("", typ), typ.String())
	}
}
