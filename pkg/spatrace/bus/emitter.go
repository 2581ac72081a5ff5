package bus

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Handler receives an event's arguments and the Context it was emitted with.
type Handler func(c *Context, args []any)

// Listener is a registered handler. It is the token used to unregister.
type Listener struct {
	typ     Type
	fn      Handler
	emitter *Emitter
	removed atomic.Bool
}

// Unsubscribe removes the listener from its emitter.
func (l *Listener) Unsubscribe() {
	l.emitter.RemoveListener(l.typ, l)
}

// Flag modifies a single emission.
type Flag uint8

const (
	// Force delivers the event even after Abort.
	Force Flag = 1 << iota
	// NoBubble suppresses re-emission on ancestor emitters.
	NoBubble
)

// Record is one buffered emission awaiting replay.
type Record struct {
	Emitter *Emitter
	Type    Type
	Args    []any
	Context *Context

	// listeners that already saw the event when it was emitted
	delivered []*Listener
}

// hub is the state shared by every emitter in one tree.
type hub struct {
	mu       sync.Mutex
	aborted  bool
	backlog  map[string][]Record
	contexts *contextTable
}

// Emitter is a named publish/subscribe endpoint. Child emitters bubble every
// emission to their parent, and ancestors run first.
//
// Dispatch is synchronous and re-entrant: a handler may emit further events
// before returning. The emitter's own bookkeeping is mutex-protected, but the
// handlers it runs are not; callers that drive it from several goroutines
// must serialize emissions (see clock.Loop).
type Emitter struct {
	name   string
	parent *Emitter
	hub    *hub

	mu        sync.Mutex
	listeners map[Type][]*Listener
	groups    map[Type]string
	children  map[string]*Emitter
}

// New creates a root emitter with an empty backlog.
func New() *Emitter {
	return &Emitter{
		hub: &hub{
			backlog:  make(map[string][]Record),
			contexts: newContextTable(),
		},
		listeners: make(map[Type][]*Listener),
		groups:    make(map[Type]string),
		children:  make(map[string]*Emitter),
	}
}

// Name returns the emitter's category name; the root's name is empty.
func (e *Emitter) Name() string {
	return e.name
}

// Parent returns the bubbling parent, or nil for the root.
func (e *Emitter) Parent() *Emitter {
	return e.parent
}

// Get returns the named child emitter, creating it if absent.
func (e *Emitter) Get(name string) *Emitter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if child, ok := e.children[name]; ok {
		return child
	}
	child := &Emitter{
		name:      name,
		parent:    e,
		hub:       e.hub,
		listeners: make(map[Type][]*Listener),
		groups:    make(map[Type]string),
		children:  make(map[string]*Emitter),
	}
	e.children[name] = child
	return child
}

// On registers fn for typ. Handlers run in registration order.
func (e *Emitter) On(typ Type, fn Handler) *Listener {
	l := &Listener{typ: typ, fn: fn, emitter: e}

	e.mu.Lock()
	e.listeners[typ] = append(e.listeners[typ], l)
	e.mu.Unlock()
	return l
}

// RemoveListener unregisters l. Removing an unknown listener is a no-op.
func (e *Emitter) RemoveListener(typ Type, l *Listener) {
	if l == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.listeners[typ]
	if i := slices.Index(list, l); i >= 0 {
		l.removed.Store(true)
		e.listeners[typ] = slices.Delete(slices.Clone(list), i, i+1)
	}
}

// Listeners returns the number of handlers registered for typ.
func (e *Emitter) Listeners(typ Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[typ])
}

// Emit dispatches typ with args. A nil Context gets a fresh one.
// It returns the Context the handlers saw.
func (e *Emitter) Emit(typ Type, args []any, c *Context) *Context {
	return e.EmitFlags(typ, args, c, 0)
}

// EmitFlags is Emit with explicit Force and NoBubble control.
func (e *Emitter) EmitFlags(typ Type, args []any, c *Context, flags Flag) *Context {
	if e.Aborted() && flags&Force == 0 {
		return c
	}
	if c == nil {
		c = e.hub.contexts.fresh()
	}

	if e.parent != nil && flags&NoBubble == 0 {
		e.parent.EmitFlags(typ, args, c, flags)
	}

	e.mu.Lock()
	snapshot := e.listeners[typ]
	group, buffered := e.groups[typ]
	e.mu.Unlock()

	for _, l := range snapshot {
		if l.removed.Load() {
			continue
		}
		l.fn(c, args)
	}

	if buffered {
		e.hub.record(group, Record{
			Emitter:   e,
			Type:      typ,
			Args:      args,
			Context:   c,
			delivered: snapshot,
		})
	}
	return c
}

// Context returns a fresh Context when c is nil, or c itself.
// Host-object contexts come from ContextOf.
func (e *Emitter) Context(c *Context) *Context {
	if c == nil {
		return e.hub.contexts.fresh()
	}
	return c
}

// Buffer marks every type in types as belonging to group, creating the
// group's backlog. Call before the first affected emission.
func (e *Emitter) Buffer(types []Type, group string) {
	e.mu.Lock()
	for _, t := range types {
		e.groups[t] = group
	}
	e.mu.Unlock()

	e.hub.mu.Lock()
	if _, ok := e.hub.backlog[group]; !ok {
		e.hub.backlog[group] = []Record{}
	}
	e.hub.mu.Unlock()
}

// Backlog returns a copy of the records buffered for group.
func (e *Emitter) Backlog(group string) []Record {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	return slices.Clone(e.hub.backlog[group])
}

// Drain replays group's backlog, in emission order, to every listener that
// did not see each event when it was emitted, then deletes the group. Types
// in the group are no longer buffered afterwards.
// Returns the number of records replayed.
func (e *Emitter) Drain(group string) int {
	e.hub.mu.Lock()
	records, ok := e.hub.backlog[group]
	delete(e.hub.backlog, group)
	e.hub.mu.Unlock()
	if !ok {
		return 0
	}

	for _, rec := range records {
		rec.Emitter.unbuffer(rec.Type, group)
	}

	for _, rec := range records {
		rec.Emitter.mu.Lock()
		current := rec.Emitter.listeners[rec.Type]
		rec.Emitter.mu.Unlock()

		for _, l := range current {
			if l.removed.Load() || slices.Contains(rec.delivered, l) {
				continue
			}
			l.fn(rec.Context, rec.Args)
		}
	}
	return len(records)
}

func (e *Emitter) unbuffer(typ Type, group string) {
	e.mu.Lock()
	if e.groups[typ] == group {
		delete(e.groups, typ)
	}
	e.mu.Unlock()
}

// Abort stops all non-forced delivery if the "api" or "feature" backlog is
// still non-empty, which means the rest of the agent never loaded to drain
// them. The backlogs are cleared. Abort is idempotent.
func (e *Emitter) Abort() {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.backlog[GroupAPI]) == 0 && len(h.backlog[GroupFeature]) == 0 {
		return
	}
	h.aborted = true
	for g := range h.backlog {
		h.backlog[g] = []Record{}
	}
}

// Aborted reports whether Abort took effect.
func (e *Emitter) Aborted() bool {
	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	return e.hub.aborted
}

func (h *hub) record(group string, rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list, ok := h.backlog[group]
	if !ok {
		return
	}
	h.backlog[group] = append(list, rec)
}
