/*
Package bus implements the context-propagating event bus that host API
wrappers report to.

# Emitters

An Emitter is a named publish/subscribe endpoint. Child emitters are
created lazily with Get and bubble every emission to their parent; the
parent's handlers run before the child's, so cross-cutting listeners on the
root observe an event before category-specific ones:

	root := bus.New()
	xhr := root.Get(bus.CategoryXHR)

	root.On(bus.FnStart, func(c *bus.Context, args []any) {
		// runs first
	})
	xhr.On(bus.FnStart, func(c *bus.Context, args []any) {
		// runs second
	})

	xhr.Emit(bus.FnStart, nil, nil)

# Contexts

Every emission carries a Context. Events tied to the same host object share
one Context, which handlers use to correlate a start event with its end
event many event-loop turns later:

	c := bus.ContextOf(xhr, req) // same *Context for the same req
	xhr.Emit(bus.SendXHRStart, nil, c)

The association lives in a side table keyed by a weak pointer to the host,
so it never mutates the host and is dropped once the host is collected.

# Buffering

Types registered with Buffer are recorded in a named backlog after each
dispatch. Drain replays the backlog to listeners that missed it and closes
the group. Abort drops everything when the "api" or "feature" backlog is
still pending, which means the consumers never loaded.

# Failures

The bus does not recover panics from handlers: a panicking handler stops the
remaining handlers of that pass. Host wrappers run callbacks under Guard,
which turns a panic into an InternalError event.
*/
package bus
