package spatrace

import (
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

// Handle is the programmatic interface to one interaction. Every call is
// an event on the "api" emitter carrying the handle's context, so calls
// made before Start are buffered and replayed in order.
type Handle struct {
	agent *Agent
	ctx   *bus.Context
}

// Interaction returns a handle to the current interaction, starting an
// "api" interaction if none is active.
func (a *Agent) Interaction() *Handle {
	h := &Handle{agent: a, ctx: a.ee.Context(nil)}
	h.emit(bus.APIIxnGet, a.now())
	return h
}

// SetRouteName records the application's route name. It is reported as the
// old route of interactions started afterwards and as the new route of the
// interaction that is current.
func (a *Agent) SetRouteName(name string) {
	a.ee.Get(bus.CategoryAPI).Emit(bus.APIRouteName, []any{a.now(), name}, nil)
}

func (h *Handle) emit(typ bus.Type, args ...any) {
	h.agent.ee.Get(bus.CategoryAPI).Emit(typ, args, h.ctx)
}

// Context returns the bus context the handle's events carry.
func (h *Handle) Context() *bus.Context { return h.ctx }

// Interaction returns the interaction the handle is bound to, or nil while
// the "api" backlog has not been replayed.
func (h *Handle) Interaction() *ixn.Interaction {
	i, _ := h.ctx.Value(ixnKey).(*ixn.Interaction)
	return i
}

// SetName sets the interaction's custom name and, if non-empty, replaces
// its trigger.
func (h *Handle) SetName(name, trigger string) *Handle {
	h.emit(bus.APIIxnSetName, name, trigger)
	return h
}

// SetAttribute sets a custom attribute on the interaction.
func (h *Handle) SetAttribute(key string, value any) *Handle {
	h.emit(bus.APIIxnSetAttribute, key, value)
	return h
}

// ActionText sets the text describing what the user acted on.
func (h *Handle) ActionText(text string) *Handle {
	h.emit(bus.APIIxnActionText, text)
	return h
}

// Ignore discards the interaction when it finishes.
func (h *Handle) Ignore() *Handle {
	h.emit(bus.APIIxnIgnore)
	return h
}

// Save reports the interaction when it finishes even without a route
// change.
func (h *Handle) Save() *Handle {
	h.emit(bus.APIIxnSave)
	return h
}

// End finishes the interaction now without waiting for outstanding work.
func (h *Handle) End() *Handle {
	h.emit(bus.APIIxnEnd, h.agent.now())
	return h
}

// OnEnd registers fn to run with the interaction's store when it finishes.
func (h *Handle) OnEnd(fn ixn.EndFunc) *Handle {
	h.emit(bus.APIIxnOnEnd, fn)
	return h
}

// GetContext passes the interaction's store to fn on a later task.
func (h *Handle) GetContext(fn func(store map[string]any)) *Handle {
	h.emit(bus.APIIxnGetContext, fn)
	return h
}

// CreateTracer records a customTracer node named name. The returned
// function runs cb under that node and finishes the node; the interaction
// waits for it to be called. Without cb an instant customEnd node is
// recorded and the returned function does nothing.
func (h *Handle) CreateTracer(name string, cb func()) func() {
	tracer := h.agent.ee.Get(bus.CategoryTracer)
	tc := tracer.Context(nil)
	h.emit(bus.APIIxnTracer, name, h.agent.now(), tc, cb != nil)
	if cb == nil {
		return func() {}
	}

	return func() {
		tracer.Emit(bus.FnStart, nil, tc)
		_ = bus.Guard(tracer, cb)
		tracer.Emit(bus.FnEnd, nil, tc)
	}
}

func handleInteraction(c *bus.Context) *ixn.Interaction {
	i, _ := c.Value(ixnKey).(*ixn.Interaction)
	if i == nil || i.Finished() {
		return nil
	}
	return i
}

// apiGet args: [ts].
func (a *Agent) apiGet(c *bus.Context, args []any) {
	if a.live() {
		c.Set(ixnKey, a.cursor.Interaction())
		return
	}
	ts, ok := argAt[time.Duration](args, 0)
	if !ok {
		ts = a.now()
	}
	i := a.newInteraction(TriggerAPI, ts)
	a.cursor = i.Root()
	c.Set(ixnKey, i)
	i.CheckFinish(a.lastURL, a.lastRoute)
}

// apiTracer args: [name, ts, tracer context, hasCallback].
func (a *Agent) apiTracer(c *bus.Context, args []any) {
	i := handleInteraction(c)
	if i == nil {
		return
	}
	name, _ := argAt[string](args, 0)
	ts, ok := argAt[time.Duration](args, 1)
	if !ok {
		ts = a.now()
	}
	tc, _ := argAt[*bus.Context](args, 2)
	hasCallback, _ := argAt[bool](args, 3)

	parent := i.Root()
	if a.cursor != nil && a.cursor.Interaction() == i {
		parent = a.cursor
	}
	if !hasCallback {
		a.ee.Get(bus.CategoryTracer).Emit(bus.NoFnStart, []any{name, ts, parent}, tc)
		return
	}
	if n := a.child(parent, ixn.TypeCustomTracer, ts, name, false); n != nil && tc != nil {
		tc.Set(nodeKey, n)
	}
}

// apiSetName args: [name, trigger].
func (a *Agent) apiSetName(c *bus.Context, args []any) {
	i := handleInteraction(c)
	if i == nil {
		return
	}
	if name, ok := argAt[string](args, 0); ok && name != "" {
		i.Root().Attrs.CustomName = name
	}
	if trigger, ok := argAt[string](args, 1); ok && trigger != "" {
		i.Root().Attrs.Trigger = trigger
	}
}

// apiSetAttribute args: [key, value].
func (a *Agent) apiSetAttribute(c *bus.Context, args []any) {
	i := handleInteraction(c)
	key, ok := argAt[string](args, 0)
	if i == nil || !ok || len(args) < 2 {
		return
	}
	i.Root().Attrs.Custom[key] = args[1]
}

// apiActionText args: [text].
func (a *Agent) apiActionText(c *bus.Context, args []any) {
	i := handleInteraction(c)
	text, ok := argAt[string](args, 0)
	if i == nil || !ok {
		return
	}
	i.Root().Attrs.Custom["actionText"] = text
}

func (a *Agent) apiIgnore(c *bus.Context, _ []any) {
	if i := handleInteraction(c); i != nil {
		i.Ignore()
	}
}

func (a *Agent) apiSave(c *bus.Context, _ []any) {
	if i := handleInteraction(c); i != nil {
		i.Save()
	}
}

// apiEnd args: [ts].
func (a *Agent) apiEnd(c *bus.Context, args []any) {
	i := handleInteraction(c)
	if i == nil {
		return
	}
	ts, ok := argAt[time.Duration](args, 0)
	if !ok {
		ts = a.now()
	}
	i.End(ts)
}

// apiOnEnd args: [ixn.EndFunc].
func (a *Agent) apiOnEnd(c *bus.Context, args []any) {
	i := handleInteraction(c)
	fn, ok := argAt[ixn.EndFunc](args, 0)
	if i == nil || !ok {
		return
	}
	i.OnEnd(fn)
}

// apiGetContext args: [func(map[string]any)].
func (a *Agent) apiGetContext(c *bus.Context, args []any) {
	i, _ := c.Value(ixnKey).(*ixn.Interaction)
	fn, ok := argAt[func(map[string]any)](args, 0)
	if i == nil || !ok || fn == nil {
		return
	}
	store := i.Root().Attrs.Store
	a.sched.AfterFunc(0, func() { fn(store) })
}

// apiRouteName args: [ts, name].
func (a *Agent) apiRouteName(_ *bus.Context, args []any) {
	name, ok := argAt[string](args, 1)
	if !ok {
		return
	}
	a.lastRoute = name
	if a.live() {
		a.cursor.Interaction().Root().Attrs.NewRoute = name
	}
}
