/*
Package spatrace reconstructs causal interaction trees from the interleaved
asynchronous callbacks of a single-page application.

# Overview

Host wrappers around timers, XHR, fetch, promises, JSONP, history and the
DOM report lifecycle events on a bus.Emitter. The Agent listens on that bus,
keeps a single "current node" cursor, and grows one ixn.Interaction per user
interaction. When no awaited work remains the interaction runs a two-phase
quiescence check on the clock.Scheduler, then finishes and is either saved
(reported) or discarded.

# Basic Usage

	loop := clock.NewLoop()
	agent := spatrace.New(
	    spatrace.WithScheduler(loop),
	    spatrace.WithURL("https://shop.example/"),
	    spatrace.WithHarvester(harvester),
	)
	if err := agent.Start(); err != nil {
	    log.Fatal(err)
	}
	agent.ScheduleAbort()

	go loop.Run(ctx)

Every bus emission and every Agent method must run on the loop goroutine,
for example through loop.Post. The Agent is not safe for concurrent use.

# Reporting Events

Wrappers emit on the category emitter returned by Bus().Get and use
bus.ContextOf to tie a start event to its end event:

	fetch := agent.Bus().Get(bus.CategoryFetch)
	c := bus.ContextOf(fetch, req)
	fetch.Emit(bus.FetchStart, []any{&ixn.AjaxParams{Method: "GET", Host: "api.example", Pathname: "/cart"}}, c)
	// ...later
	fetch.Emit(bus.FetchDone, []any{nil, params, metrics}, c)

Callbacks are bracketed with FnStart/FnEnd (or CbStart/CbEnd for promise and
JSONP callbacks) so the Agent can attribute exclusive time and restore the
cursor. A user event starts an interaction when its callback is bracketed on
the root emitter with a *DOMEvent argument.

# Programmatic API

Interaction returns a Handle bound to the current interaction (or a new
"api" interaction when none is active). Handle calls are bus events in the
"api" group, so calls made before Start are replayed when it runs:

	h := agent.Interaction()
	h.SetName("add-to-cart", "").SetAttribute("sku", "A-100").Save()
	done := h.CreateTracer("render", func() { render() })
	done()

# Outputs

Finished interactions are emitted as bus.InteractionSaved or
bus.InteractionDiscarded. Saved ones are also exported as spans through the
configured observability.SpanManager and queued on the harvest.Harvester.
Errors reported with ReportError are correlated with the interaction that
was current and aggregated with package stats.
*/
package spatrace
