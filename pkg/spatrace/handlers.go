package spatrace

import (
	"net/url"
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
	spaerrors "github.com/randalmurphal/spatrace/pkg/spatrace/errors"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
	"github.com/randalmurphal/spatrace/pkg/spatrace/observability"
)

// XHR: the node is created when the request object is, but only awaited
// once the request is sent.

func (a *Agent) newXHR(c *bus.Context, _ []any) {
	if !a.live() {
		return
	}
	if n := a.child(a.cursor, ixn.TypeAjax, a.now(), "", true); n != nil {
		c.Set(nodeKey, n)
	}
}

func (a *Agent) sendXHR(c *bus.Context, _ []any) {
	if n := nodeOf(c); n != nil {
		n.Wait()
	}
}

// xhrResolved args: [*ixn.AjaxParams, *ixn.AjaxMetrics, end time.Duration].
func (a *Agent) xhrResolved(c *bus.Context, args []any) {
	n := nodeOf(c)
	if n == nil {
		return
	}
	params, _ := argAt[*ixn.AjaxParams](args, 0)
	metrics, _ := argAt[*ixn.AjaxMetrics](args, 1)
	end, ok := argAt[time.Duration](args, 2)
	if !ok {
		end = a.now()
	}
	a.resolveAjax(n, params, metrics, end, nil)
}

// resolveAjax attaches response metadata and finishes n, or cancels it when
// the request failed, was malformed or targets a denied host.
func (a *Agent) resolveAjax(n *ixn.Node, params *ixn.AjaxParams, metrics *ixn.AjaxMetrics, end time.Duration, err error) {
	if n.Finished() || n.Cancelled() {
		return
	}
	if params != nil {
		n.Attrs.Params = params
	}
	if metrics != nil {
		n.Attrs.Metrics = metrics
	}
	p := n.Attrs.Params

	switch {
	case err != nil:
		a.cancel(n, "request failed")
	case p == nil || p.Status == 0:
		a.cancel(n, "malformed response")
	case a.settings.Denied(p.Host):
		a.cancel(n, "denied host")
	default:
		n.Finish(end)
	}
}

// fetchStart args: [*ixn.AjaxParams].
func (a *Agent) fetchStart(c *bus.Context, args []any) {
	if !a.live() {
		return
	}
	n := a.child(a.cursor, ixn.TypeAjax, a.now(), "", false)
	if n == nil {
		return
	}
	n.Attrs.IsFetch = true
	if params, ok := argAt[*ixn.AjaxParams](args, 0); ok {
		n.Attrs.Params = params
	}
	c.Set(nodeKey, n)
}

// fetchDone args: [error, *ixn.AjaxParams, *ixn.AjaxMetrics, end time.Duration].
func (a *Agent) fetchDone(c *bus.Context, args []any) {
	n := nodeOf(c)
	if n == nil {
		return
	}
	c.Delete(nodeKey)

	err, _ := argAt[error](args, 0)
	params, _ := argAt[*ixn.AjaxParams](args, 1)
	metrics, _ := argAt[*ixn.AjaxMetrics](args, 2)
	end, ok := argAt[time.Duration](args, 3)
	if !ok {
		end = a.now()
	}
	a.resolveAjax(n, params, metrics, end, err)
}

// holdCurrent keeps the current interaction open until releaseHold runs
// with the same context.
func (a *Agent) holdCurrent(c *bus.Context, _ []any) {
	if !a.live() {
		return
	}
	i := a.cursor.Interaction()
	i.Hold()
	c.Set(holdKey, i)
}

func (a *Agent) releaseHold(c *bus.Context, _ []any) {
	i, ok := c.Value(holdKey).(*ixn.Interaction)
	if !ok {
		return
	}
	c.Delete(holdKey)
	i.Extend(a.now())
	i.Release()
	i.CheckFinish(a.lastURL, a.lastRoute)
}

// newJSONP args: [url string].
func (a *Agent) newJSONP(c *bus.Context, args []any) {
	if !a.live() {
		return
	}
	n := a.child(a.cursor, ixn.TypeAjax, a.now(), "", false)
	if n == nil {
		return
	}
	c.Set(nodeKey, n)

	raw, _ := argAt[string](args, 0)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		a.cancel(n, "malformed url")
		return
	}
	n.Attrs.Params = &ixn.AjaxParams{Method: "GET", Host: u.Host, Pathname: u.Path}
}

// jsonpEnd args: [end time.Duration].
func (a *Agent) jsonpEnd(c *bus.Context, args []any) {
	n := nodeOf(c)
	if n == nil || n.Cancelled() {
		return
	}
	end, ok := argAt[time.Duration](args, 0)
	if !ok {
		end = a.now()
	}
	if p := n.Attrs.Params; p != nil {
		p.Status = 200
	}
	a.resolveAjax(n, nil, nil, end, nil)
}

func (a *Agent) jsonpError(c *bus.Context, _ []any) {
	if n := nodeOf(c); n != nil && !n.Finished() {
		a.cancel(n, "jsonp error")
	}
}

// newPromise remembers the node a promise was created under so its
// callbacks run under it.
func (a *Agent) newPromise(c *bus.Context, _ []any) {
	if a.live() {
		c.Set(nodeKey, a.cursor)
	}
}

// timerEntry is an awaited timer. budget is the timer budget left to
// timers scheduled from its callback.
type timerEntry struct {
	id     int64
	node   *ixn.Node
	budget time.Duration
	held   bool
}

// timerScheduled args: [delay time.Duration, timerID int64]. Timers are
// awaited while their delays fit in the remaining timer budget.
func (a *Agent) timerScheduled(c *bus.Context, args []any) {
	if !a.live() {
		return
	}
	delay, _ := argAt[time.Duration](args, 0)
	if delay < 0 {
		delay = 0
	}
	if delay >= a.timerBudget {
		return
	}
	a.timerBudget -= delay

	a.cursor.Interaction().Hold()
	e := &timerEntry{node: a.cursor, budget: a.timerBudget, held: true}
	if id, ok := argAt[int64](args, 1); ok {
		e.id = id
		a.timers[id] = e
	}
	c.Set(timerKey, e)
}

// timerCleared args: [timerID int64].
func (a *Agent) timerCleared(_ *bus.Context, args []any) {
	id, ok := argAt[int64](args, 0)
	if !ok {
		return
	}
	e := a.timers[id]
	delete(a.timers, id)
	a.releaseTimer(e)
}

func (a *Agent) timerCallbackStart(c *bus.Context, _ []any) {
	e, ok := c.Value(timerKey).(*timerEntry)
	if !ok {
		return
	}
	if !e.node.Interaction().Finished() {
		a.cursor = e.node
	}
	a.timerBudget = e.budget
}

func (a *Agent) timerCallbackEnd(c *bus.Context, _ []any) {
	e, ok := c.Value(timerKey).(*timerEntry)
	if !ok {
		return
	}
	c.Delete(timerKey)
	if a.timers[e.id] == e {
		delete(a.timers, e.id)
	}
	a.releaseTimer(e)
}

func (a *Agent) releaseTimer(e *timerEntry) {
	if e == nil || !e.held {
		return
	}
	e.held = false
	i := e.node.Interaction()
	i.Release()
	i.CheckFinish(a.lastURL, a.lastRoute)
}

// historyChanged normalizes pushState/replaceState to NewURL. args: [url].
func (a *Agent) historyChanged(c *bus.Context, args []any) {
	u, ok := argAt[string](args, 0)
	if !ok {
		return
	}
	a.ee.Get(bus.CategoryHistory).Emit(bus.NewURL, []any{u, false}, c)
}

// newURL args: [url string, hashChangedDuringCb bool].
func (a *Agent) newURL(_ *bus.Context, args []any) {
	u, ok := argAt[string](args, 0)
	if !ok {
		return
	}
	hashChanged, _ := argAt[bool](args, 1)

	if a.live() {
		if u != a.lastURL {
			a.cursor.Interaction().SetRouteChange()
		}
		if hashChanged {
			a.hashNode = a.cursor
		}
	}
	a.lastURL = u
}

// domInserted args: [*Element]. A script with a src keeps the interaction
// open until it loads or fails.
func (a *Agent) domInserted(c *bus.Context, args []any) {
	el, _ := argAt[*Element](args, 0)
	if !el.isScript() {
		return
	}
	a.holdCurrent(c, nil)
}

// tracerEnd finishes the tracer node when its callback returns.
func (a *Agent) tracerEnd(c *bus.Context, _ []any) {
	if n := nodeOf(c); n != nil {
		n.Finish(a.now())
	}
}

// tracerMark args: [name string, ts time.Duration, parent *ixn.Node]. A
// tracer without a callback is an instant customEnd node.
func (a *Agent) tracerMark(_ *bus.Context, args []any) {
	name, _ := argAt[string](args, 0)
	ts, _ := argAt[time.Duration](args, 1)
	parent, _ := argAt[*ixn.Node](args, 2)
	if n := a.child(parent, ixn.TypeCustomEnd, ts, name, true); n != nil {
		n.Finish(ts)
	}
}

// internalError args: [error]. Host failures are logged and dropped.
func (a *Agent) internalError(_ *bus.Context, args []any) {
	err, ok := argAt[error](args, 0)
	if !ok {
		return
	}
	observability.LogInternalError(a.logger, err)
	a.metrics.RecordInternalError(a.ctx, spaerrors.Categorize(err).String())
}
