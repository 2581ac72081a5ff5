package bus

import (
	"runtime"
	"sync"
	"weak"
)

// Context is the identity-stable object shared by every handler invocation
// tied to one host object (an XHR, a promise, a timer callback, a caller
// supplied store).
//
// Handlers stash correlation state on it with Set and read it back later,
// possibly many event-loop turns afterwards.
type Context struct {
	id   uint64
	vals map[any]any
}

// ID returns the context's process-unique identifier.
func (c *Context) ID() uint64 {
	return c.id
}

// Value returns the value stored under key, or nil.
func (c *Context) Value(key any) any {
	if c == nil || c.vals == nil {
		return nil
	}
	return c.vals[key]
}

// Set stores val under key.
func (c *Context) Set(key, val any) {
	if c.vals == nil {
		c.vals = make(map[any]any)
	}
	c.vals[key] = val
}

// Delete removes key.
func (c *Context) Delete(key any) {
	delete(c.vals, key)
}

// contextTable associates host objects with their Context without mutating
// the host or keeping it reachable. Entries are dropped by a runtime cleanup
// once the host is collected.
type contextTable struct {
	mu     sync.Mutex
	byHost map[any]*Context
	nextID uint64
}

func newContextTable() *contextTable {
	return &contextTable{byHost: make(map[any]*Context)}
}

func (t *contextTable) fresh() *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return &Context{id: t.nextID}
}

func (t *contextTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byHost)
}

func (t *contextTable) forget(key any) {
	t.mu.Lock()
	delete(t.byHost, key)
	t.mu.Unlock()
}

// ContextOf returns the Context attached to host, creating and attaching one
// if absent. host must point to a heap object; the same pointer always yields
// the same Context while host is reachable.
func ContextOf[T any](e *Emitter, host *T) *Context {
	if host == nil {
		return e.hub.contexts.fresh()
	}

	t := e.hub.contexts
	key := weak.Make(host)

	t.mu.Lock()
	if c, ok := t.byHost[key]; ok {
		t.mu.Unlock()
		return c
	}
	t.nextID++
	c := &Context{id: t.nextID}
	t.byHost[key] = c
	t.mu.Unlock()

	runtime.AddCleanup(host, t.forget, any(key))
	return c
}

// EmitFor emits typ on e with the Context attached to host.
func EmitFor[T any](e *Emitter, typ Type, args []any, host *T) *Context {
	return e.Emit(typ, args, ContextOf(e, host))
}
