package spatrace

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
	"github.com/randalmurphal/spatrace/pkg/spatrace/config"
	"github.com/randalmurphal/spatrace/pkg/spatrace/harvest"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
	"github.com/randalmurphal/spatrace/pkg/spatrace/observability"
	"github.com/randalmurphal/spatrace/pkg/spatrace/stats"
)

// TriggerInitialPageLoad and TriggerAPI name interactions that were not
// started by a DOM event.
const (
	TriggerInitialPageLoad = "initialPageLoad"
	TriggerAPI             = "api"
)

// Agent is the causality aggregator. It owns the current-node cursor and
// turns bus events into interaction trees.
type Agent struct {
	ee        *bus.Emitter
	sched     clock.Scheduler
	settings  config.Settings
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	harvester *harvest.Harvester
	sessionID string
	origin    time.Time
	ctx       context.Context

	started       bool
	pageLoaded    bool
	featureLoaded bool
	initialURL    string
	initial       *ixn.Interaction

	cursor      *ixn.Node
	childTime   time.Duration
	depth       int
	hashNode    *ixn.Node
	timerBudget time.Duration
	timers      map[int64]*timerEntry
	lastURL     string
	lastRoute   string
	custom      map[string]any

	pendingErrors map[int64][]ErrorReport
	errors        *stats.Aggregator
}

// New creates an agent. The "api" and "feature" backlogs start buffering
// immediately; nothing is handled until Start.
func New(opts ...Option) *Agent {
	cfg := defaultAgentConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.scheduler == nil {
		cfg.scheduler = clock.NewLoop()
	}
	if cfg.sessionID == "" {
		if cfg.harvester != nil {
			cfg.sessionID = cfg.harvester.SessionID()
		} else {
			cfg.sessionID = uuid.NewString()
		}
	}

	ee := bus.New()
	ee.Get(bus.CategoryAPI).Buffer(bus.APITypes, bus.GroupAPI)
	ee.Buffer([]bus.Type{bus.FeatureSPA}, bus.GroupFeature)

	return &Agent{
		ee:            ee,
		sched:         cfg.scheduler,
		settings:      cfg.settings,
		logger:        cfg.logger,
		metrics:       cfg.metrics,
		spans:         cfg.spans,
		harvester:     cfg.harvester,
		sessionID:     cfg.sessionID,
		origin:        cfg.origin,
		ctx:           context.Background(),
		pageLoaded:    cfg.pageLoaded,
		initialURL:    cfg.url,
		lastURL:       cfg.url,
		lastRoute:     cfg.route,
		timerBudget:   cfg.settings.TimerBudget,
		timers:        make(map[int64]*timerEntry),
		custom:        make(map[string]any),
		pendingErrors: make(map[int64][]ErrorReport),
		errors:        stats.New(),
	}
}

// Bus returns the root emitter host wrappers report to.
func (a *Agent) Bus() *bus.Emitter { return a.ee }

// Scheduler returns the agent's scheduler.
func (a *Agent) Scheduler() clock.Scheduler { return a.sched }

// Settings returns the agent's settings.
func (a *Agent) Settings() config.Settings { return a.settings }

// SessionID returns the id stamped on harvest payloads.
func (a *Agent) SessionID() string { return a.sessionID }

// Current returns the node current code is running under, or nil.
func (a *Agent) Current() *ixn.Node { return a.cursor }

// Depth returns how many instrumented callbacks are on the stack.
func (a *Agent) Depth() int { return a.depth }

// Errors returns the aggregated error reports.
func (a *Agent) Errors() *stats.Aggregator { return a.errors }

// URL returns the last URL seen.
func (a *Agent) URL() string { return a.lastURL }

// SetCustomAttribute sets a page-level attribute merged into every
// interaction that finishes afterwards. Attributes set on the interaction
// itself win.
func (a *Agent) SetCustomAttribute(key string, value any) {
	a.custom[key] = value
}

// Start registers the agent's listeners, opens the initial page load
// interaction unless the page already loaded, and replays the "feature" and
// "api" backlogs.
func (a *Agent) Start() error {
	if a.started {
		return ErrAlreadyStarted
	}
	if !a.settings.Enabled {
		return ErrDisabled
	}
	if err := a.settings.Validate(); err != nil {
		return err
	}
	a.started = true

	a.subscribe()
	if !a.pageLoaded {
		a.startPageLoad()
	}
	a.ee.Drain(bus.GroupFeature)
	a.ee.Drain(bus.GroupAPI)
	return nil
}

// ScheduleAbort aborts the bus after the configured AbortAfter unless the
// backlogs were drained by then.
func (a *Agent) ScheduleAbort() clock.Timer {
	return a.sched.AfterFunc(a.settings.AbortAfter, a.Abort)
}

// Abort aborts the bus if the "api" or "feature" backlog is still pending.
func (a *Agent) Abort() {
	pending := len(a.ee.Backlog(bus.GroupAPI)) + len(a.ee.Backlog(bus.GroupFeature))
	a.ee.Abort()
	if a.ee.Aborted() {
		observability.LogAbort(a.logger, pending)
	}
}

// subscription lists the event types handled on one emitter.
type subscription struct {
	category string
	types    []bus.Type
}

var subscriptions = []subscription{
	{"", []bus.Type{bus.FnStart, bus.FnEnd, bus.CbStart, bus.CbEnd, bus.Load, bus.FeatureSPA, bus.InternalError}},
	{bus.CategoryXHR, []bus.Type{bus.NewXHR, bus.SendXHRStart, bus.XHRResolved, bus.FnStart}},
	{bus.CategoryFetch, []bus.Type{bus.FetchStart, bus.FetchDone, bus.FetchBodyStart, bus.FetchBodyEnd}},
	{bus.CategoryJSONP, []bus.Type{bus.NewJSONP, bus.CbStart, bus.JSONPEnd, bus.JSONPError}},
	{bus.CategoryPromise, []bus.Type{bus.NewPromise, bus.CbStart}},
	{bus.CategoryTimer, []bus.Type{bus.SetTimeoutEnd, bus.ClearTimeoutStart, bus.FnStart, bus.FnEnd}},
	{bus.CategoryHistory, []bus.Type{bus.PushStateEnd, bus.ReplaceStateEnd, bus.NewURL}},
	{bus.CategoryDOM, []bus.Type{bus.DOMStart, bus.ScriptLoad, bus.ScriptError}},
	{bus.CategoryTracer, []bus.Type{bus.FnStart, bus.FnEnd, bus.NoFnStart}},
	{bus.CategoryAPI, bus.APITypes},
}

func (a *Agent) subscribe() {
	for _, sub := range subscriptions {
		e := a.ee
		if sub.category != "" {
			e = a.ee.Get(sub.category)
		}
		for _, typ := range sub.types {
			if h := a.handler(sub.category, typ); h != nil {
				e.On(typ, h)
			}
		}
	}
}

// handler maps an event on a category emitter to its handler. Outbound
// types and category/type pairs with no meaning return nil.
func (a *Agent) handler(category string, typ bus.Type) bus.Handler {
	switch typ {
	case bus.FnStart, bus.CbStart:
		switch category {
		case "":
			return a.callbackStart
		case bus.CategoryTimer:
			return a.timerCallbackStart
		case bus.CategoryXHR, bus.CategoryJSONP, bus.CategoryPromise, bus.CategoryTracer:
			return a.restoreNode
		}
	case bus.FnEnd, bus.CbEnd:
		switch category {
		case "":
			return a.callbackEnd
		case bus.CategoryTimer:
			return a.timerCallbackEnd
		case bus.CategoryTracer:
			return a.tracerEnd
		}
	case bus.Load:
		return a.pageLoad
	case bus.FeatureSPA:
		return a.featureReady
	case bus.NewXHR:
		return a.newXHR
	case bus.SendXHRStart:
		return a.sendXHR
	case bus.XHRResolved:
		return a.xhrResolved
	case bus.FetchStart:
		return a.fetchStart
	case bus.FetchDone:
		return a.fetchDone
	case bus.FetchBodyStart:
		return a.holdCurrent
	case bus.FetchBodyEnd:
		return a.releaseHold
	case bus.NewJSONP:
		return a.newJSONP
	case bus.JSONPEnd:
		return a.jsonpEnd
	case bus.JSONPError:
		return a.jsonpError
	case bus.NewPromise:
		return a.newPromise
	case bus.SetTimeoutEnd:
		return a.timerScheduled
	case bus.ClearTimeoutStart:
		return a.timerCleared
	case bus.PushStateEnd, bus.ReplaceStateEnd:
		return a.historyChanged
	case bus.NewURL:
		return a.newURL
	case bus.DOMStart:
		return a.domInserted
	case bus.ScriptLoad, bus.ScriptError:
		return a.releaseHold
	case bus.NoFnStart:
		return a.tracerMark
	case bus.APIIxnGet:
		return a.apiGet
	case bus.APIIxnTracer:
		return a.apiTracer
	case bus.APIIxnSetName:
		return a.apiSetName
	case bus.APIIxnSetAttribute:
		return a.apiSetAttribute
	case bus.APIIxnActionText:
		return a.apiActionText
	case bus.APIIxnIgnore:
		return a.apiIgnore
	case bus.APIIxnSave:
		return a.apiSave
	case bus.APIIxnEnd:
		return a.apiEnd
	case bus.APIIxnOnEnd:
		return a.apiOnEnd
	case bus.APIIxnGetContext:
		return a.apiGetContext
	case bus.APIRouteName:
		return a.apiRouteName
	case bus.InternalError:
		return a.internalError
	case bus.InteractionSaved, bus.InteractionDiscarded, bus.ErrorAgg, bus.TypeUnknown:
		return nil
	}
	return nil
}

// ctxKey namespaces the agent's values on bus contexts.
type ctxKey uint8

const (
	frameKey ctxKey = iota
	nodeKey
	holdKey
	timerKey
	ixnKey
)

// frame is the state saved when entering an instrumented callback.
type frame struct {
	prev      *ixn.Node
	childTime time.Duration
	start     time.Duration
}

func pushFrame(c *bus.Context, f frame) {
	stack, _ := c.Value(frameKey).([]frame)
	c.Set(frameKey, append(stack, f))
}

func popFrame(c *bus.Context) (frame, bool) {
	stack, _ := c.Value(frameKey).([]frame)
	if len(stack) == 0 {
		return frame{}, false
	}
	f := stack[len(stack)-1]
	if len(stack) == 1 {
		c.Delete(frameKey)
	} else {
		c.Set(frameKey, stack[:len(stack)-1])
	}
	return f, true
}

func (a *Agent) now() time.Duration { return a.sched.Now() }

// live reports whether the cursor points into an unfinished interaction.
func (a *Agent) live() bool {
	return a.cursor != nil && !a.cursor.Interaction().Finished()
}

// callbackStart opens the exclusive-time bracket of any instrumented
// callback, and starts an interaction for qualifying DOM events.
func (a *Agent) callbackStart(c *bus.Context, args []any) {
	now := a.now()
	pushFrame(c, frame{prev: a.cursor, childTime: a.childTime, start: now})
	a.childTime = 0
	a.depth++

	if ev, ok := argAt[*DOMEvent](args, 0); ok && ev != nil {
		a.domEvent(ev, now)
	}
}

func (a *Agent) domEvent(ev *DOMEvent, now time.Duration) {
	if a.live() {
		return
	}
	if ev.Type == "hashchange" && a.hashNode != nil && !a.hashNode.Interaction().Finished() {
		a.cursor = a.hashNode
		return
	}
	if !a.isInteractionEvent(ev.Type) {
		return
	}

	ts := ev.Timestamp
	if ts == 0 {
		ts = now
	}
	i := a.newInteraction(ev.Type, ts)
	if ev.Type == "click" {
		if text := ev.Target.actionText(); text != "" {
			i.Root().Attrs.Custom["actionText"] = text
		}
	}
	a.cursor = i.Root()
}

func (a *Agent) isInteractionEvent(typ string) bool {
	if typ == "popstate" && a.pageLoaded {
		return true
	}
	return slices.Contains(a.settings.InteractionEvents, typ)
}

// callbackEnd closes the bracket: the node current at exit is charged with
// the callback's time minus the time spent in nested instrumented
// callbacks, and the caller is charged with the whole callback.
func (a *Agent) callbackEnd(c *bus.Context, _ []any) {
	f, ok := popFrame(c)
	if !ok {
		a.logger.Debug("callback end without start", slog.Uint64("context_id", c.ID()))
		return
	}

	now := a.now()
	total := now - f.start
	node := a.cursor
	if node != nil {
		node.Callback(total-a.childTime, now)
	}
	a.childTime = f.childTime + total
	a.depth--
	a.cursor = f.prev

	if node != nil {
		node.Interaction().CheckFinish(a.lastURL, a.lastRoute)
	}
}

// restoreNode makes the node stored on c current for the callback.
func (a *Agent) restoreNode(c *bus.Context, _ []any) {
	if n, ok := c.Value(nodeKey).(*ixn.Node); ok && n != nil && !n.Interaction().Finished() {
		a.cursor = n
	}
}

func nodeOf(c *bus.Context) *ixn.Node {
	n, _ := c.Value(nodeKey).(*ixn.Node)
	return n
}

func (a *Agent) newInteraction(trigger string, ts time.Duration) *ixn.Interaction {
	i := ixn.New(trigger, ts, a.lastURL, a.lastRoute, ixn.Options{
		Scheduler:      a.sched,
		OnFinished:     a.interactionFinished,
		GlobalAttrs:    a.globalAttrs,
		InitialPageURL: a.initialURL,
	})
	a.timerBudget = a.settings.TimerBudget
	observability.LogInteractionStart(a.logger, i.ID(), trigger)
	return i
}

func (a *Agent) globalAttrs() map[string]any {
	attrs := maps.Clone(a.settings.CustomAttributes)
	if attrs == nil {
		attrs = make(map[string]any, len(a.custom))
	}
	maps.Copy(attrs, a.custom)
	return attrs
}

// child creates a node under parent, logging the first refusal caused by
// the node cap.
func (a *Agent) child(parent *ixn.Node, typ ixn.NodeType, ts time.Duration, name string, dontWait bool) *ixn.Node {
	if parent == nil {
		return nil
	}
	i := parent.Interaction()
	before := i.Dropped()
	n := parent.Child(typ, ts, name, dontWait)
	if n == nil {
		if before == 0 && i.Dropped() > 0 {
			observability.LogNodeDropped(a.logger, i.ID(), ixn.MaxNodes)
		}
		return nil
	}
	observability.LogNodeStart(a.logger, i.ID(), n.ID(), string(typ))
	return n
}

func (a *Agent) cancel(n *ixn.Node, reason string) {
	n.Cancel()
	observability.LogNodeCancelled(a.logger, n.Interaction().ID(), n.ID(), reason)
}

func (a *Agent) startPageLoad() {
	i := a.newInteraction(TriggerInitialPageLoad, 0)
	i.Save()
	i.Hold()
	a.initial = i
	a.cursor = i.Root()
}

func (a *Agent) pageLoad(_ *bus.Context, args []any) {
	if a.pageLoaded {
		return
	}
	a.pageLoaded = true

	i := a.initial
	if i == nil || i.Finished() {
		return
	}
	ts, ok := argAt[time.Duration](args, 0)
	if !ok {
		ts = a.now()
	}
	i.Extend(ts)
	i.Release()
	i.CheckFinish(a.lastURL, a.lastRoute)
}

func (a *Agent) featureReady(_ *bus.Context, _ []any) {
	a.featureLoaded = true
	a.logger.Debug("interaction feature loaded", slog.String("session_id", a.sessionID))
}

// interactionFinished reports a finished interaction and forgets every
// reference the agent holds into its tree.
func (a *Agent) interactionFinished(i *ixn.Interaction) {
	if a.cursor != nil && a.cursor.Interaction() == i {
		a.cursor = nil
	}
	if a.hashNode != nil && a.hashNode.Interaction() == i {
		a.hashNode = nil
	}
	if a.initial == i {
		a.initial = nil
	}
	for id, e := range a.timers {
		if e.node.Interaction() == i {
			delete(a.timers, id)
		}
	}

	if d := i.Dropped(); d > 0 {
		a.metrics.RecordNodesDropped(a.ctx, i.Trigger(), d)
	}
	pending := a.pendingErrors[i.ID()]
	delete(a.pendingErrors, i.ID())

	kept := i.Keep()
	a.metrics.RecordInteraction(a.ctx, i.Trigger(), kept, i.Duration(), i.Nodes())

	if kept {
		observability.LogInteractionSaved(a.logger, i.ID(), i.Trigger(), clock.Millis(i.Duration()), i.Nodes())
		a.spans.ExportInteraction(a.ctx, a.origin, i)
		a.enqueue(i)
		a.ee.Emit(bus.InteractionSaved, []any{i}, nil)
		for _, r := range pending {
			a.storeError(r)
		}
		return
	}

	reason := "not saved"
	if i.Ignored() {
		reason = "ignored"
	}
	observability.LogInteractionDiscarded(a.logger, i.ID(), i.Trigger(), reason)
	a.ee.Emit(bus.InteractionDiscarded, []any{i}, nil)
	for _, r := range pending {
		a.storeError(r.pageScoped())
	}
}

func (a *Agent) enqueue(i *ixn.Interaction) {
	if a.harvester == nil {
		return
	}
	if err := a.harvester.Enqueue(harvest.Serialize(a.sessionID, i)); err != nil {
		observability.LogInternalError(a.logger, err)
	}
}
