// Package ixn models a user interaction as a tree of asynchronous work and
// decides when that work has quiesced.
//
// An Interaction owns a root Node and counts the awaited work still
// outstanding. When the count reaches zero a two-phase deferred check runs on
// the interaction's clock.Scheduler: the first zero-delay task confirms the
// count is still zero and the second finishes the interaction. Any new
// awaited work in between resets the check.
//
// The package is not safe for concurrent use. Callers drive it from one
// goroutine, typically a clock.Loop.
package ixn

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
)

var interactionsSeen atomic.Int64

// State is the lifecycle state of an interaction.
type State uint8

// Interaction states.
const (
	StateActive State = iota
	StateCheckingFinish
	StateSaved
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCheckingFinish:
		return "checking_finish"
	case StateSaved:
		return "saved"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// EndFunc runs when an interaction finishes. It receives the caller store
// shared with getContext.
type EndFunc func(store map[string]any)

// Options configure a new Interaction.
type Options struct {
	// Scheduler runs the deferred finish check. Required.
	Scheduler clock.Scheduler

	// OnFinished is called once, after onEnd handlers and attribute merge.
	OnFinished func(*Interaction)

	// GlobalAttrs supplies attributes merged into the root's custom
	// attributes at finish. Attributes already set on the root win.
	GlobalAttrs func() map[string]any

	// InitialPageURL is the URL the page was loaded with.
	InitialPageURL string
}

// Interaction is a root node plus the state that decides when the
// interaction is complete.
type Interaction struct {
	id      int64
	created time.Duration
	root    *Node
	opts    Options

	remaining  int
	nodes      int
	dropped    int
	lastCb     time.Duration
	lastFinish time.Duration

	save        bool
	ignored     bool
	routeChange bool

	handlers []EndFunc

	checkTimer clock.Timer
	finished   bool
}

// New starts an interaction triggered by trigger at ts on the page at url.
func New(trigger string, ts time.Duration, url, routeName string, opts Options) *Interaction {
	ixn := &Interaction{
		id:      interactionsSeen.Add(1),
		created: ts,
		opts:    opts,
	}
	root := newNode(ixn, nil, TypeInteraction, ts)
	root.Attrs = Attrs{
		Trigger:        trigger,
		InitialPageURL: opts.InitialPageURL,
		OldURL:         url,
		NewURL:         url,
		OldRoute:       routeName,
		Custom:         make(map[string]any),
		Store:          make(map[string]any),
	}
	ixn.root = root
	ixn.lastCb = ts
	ixn.lastFinish = ts
	return ixn
}

// ID returns the process-unique interaction id.
func (i *Interaction) ID() int64 { return i.id }

// Root returns the interaction's root node.
func (i *Interaction) Root() *Node { return i.root }

// Trigger returns the event that started the interaction.
func (i *Interaction) Trigger() string { return i.root.Attrs.Trigger }

// Created returns the creation offset.
func (i *Interaction) Created() time.Duration { return i.created }

// Remaining returns the number of awaited work items still outstanding.
func (i *Interaction) Remaining() int { return i.remaining }

// Nodes returns the number of child nodes created.
func (i *Interaction) Nodes() int { return i.nodes }

// Dropped returns the number of children refused because of MaxNodes.
func (i *Interaction) Dropped() int { return i.dropped }

// LastCallback returns the end of the latest callback seen.
func (i *Interaction) LastCallback() time.Duration { return i.lastCb }

// LastFinish returns the latest node finish.
func (i *Interaction) LastFinish() time.Duration { return i.lastFinish }

// Finished reports whether Finish ran.
func (i *Interaction) Finished() bool { return i.finished }

// Checking reports whether a deferred finish check is pending.
func (i *Interaction) Checking() bool { return i.checkTimer != nil }

// Save marks the interaction to be kept even without a route change.
func (i *Interaction) Save() { i.save = true }

// Saved reports whether Save was called.
func (i *Interaction) Saved() bool { return i.save }

// Ignore discards the interaction when it finishes, regardless of Save.
func (i *Interaction) Ignore() { i.ignored = true }

// Ignored reports whether Ignore was called.
func (i *Interaction) Ignored() bool { return i.ignored }

// SetRouteChange records that the URL changed during the interaction.
func (i *Interaction) SetRouteChange() { i.routeChange = true }

// RouteChange reports whether the URL changed during the interaction.
func (i *Interaction) RouteChange() bool { return i.routeChange }

// Keep reports whether a finished interaction should be reported.
func (i *Interaction) Keep() bool {
	return !i.ignored && (i.save || i.routeChange)
}

// State returns the lifecycle state.
func (i *Interaction) State() State {
	switch {
	case !i.finished && i.checkTimer != nil:
		return StateCheckingFinish
	case !i.finished:
		return StateActive
	case i.Keep():
		return StateSaved
	default:
		return StateDiscarded
	}
}

// OnEnd registers fn to run when the interaction finishes.
func (i *Interaction) OnEnd(fn EndFunc) {
	if fn == nil || i.finished {
		return
	}
	i.handlers = append(i.handlers, fn)
}

// Hold keeps the interaction open for work that is not a node, such as a
// pending timer or script load.
func (i *Interaction) Hold() {
	if i.finished {
		return
	}
	i.remaining++
	i.resetFinishCheck()
}

// Release ends one Hold. The count never goes below zero.
func (i *Interaction) Release() {
	i.release()
}

func (i *Interaction) release() {
	if i.remaining > 0 {
		i.remaining--
	}
}

// CheckFinish schedules the deferred completion check when no awaited work
// remains, and cancels a pending check otherwise. A non-empty url or
// routeName is recorded as the interaction's destination.
func (i *Interaction) CheckFinish(url, routeName string) {
	if i.finished {
		return
	}
	if url != "" {
		i.root.Attrs.NewURL = url
	}
	if routeName != "" {
		i.root.Attrs.NewRoute = routeName
	}

	if i.remaining > 0 {
		i.resetFinishCheck()
		return
	}
	if i.checkTimer != nil {
		return
	}

	sched := i.opts.Scheduler
	i.checkTimer = sched.AfterFunc(0, func() {
		if i.remaining > 0 {
			i.checkTimer = nil
			return
		}
		i.checkTimer = sched.AfterFunc(0, func() {
			i.checkTimer = nil
			if i.remaining == 0 {
				i.Finish()
			}
		})
	})
}

func (i *Interaction) resetFinishCheck() {
	if i.checkTimer != nil {
		i.checkTimer.Stop()
		i.checkTimer = nil
	}
}

// Finish ends the interaction. The root's end is the later of the last
// callback and the last node finish. onEnd handlers run, global attributes
// are merged under existing ones, then OnFinished is called. Idempotent.
func (i *Interaction) Finish() {
	if i.finished {
		return
	}
	i.finished = true
	i.resetFinishCheck()

	root := i.root
	root.end = max(i.lastCb, i.lastFinish)
	root.jsEnd = max(root.jsEnd, i.lastCb)
	root.ended = true

	for _, h := range i.handlers {
		h(root.Attrs.Store)
	}
	i.handlers = nil

	if i.opts.GlobalAttrs != nil {
		global := i.opts.GlobalAttrs()
		merged := maps.Clone(global)
		if merged == nil {
			merged = make(map[string]any)
		}
		maps.Copy(merged, root.Attrs.Custom)
		root.Attrs.Custom = merged
	}

	if i.opts.OnFinished != nil {
		i.opts.OnFinished(i)
	}
}

// Extend moves the interaction's eventual end to at least ts.
func (i *Interaction) Extend(ts time.Duration) {
	if !i.finished && ts > i.lastFinish {
		i.lastFinish = ts
	}
}

// End finishes the interaction at ts without waiting for outstanding work.
func (i *Interaction) End(ts time.Duration) {
	if i.finished {
		return
	}
	if ts > i.lastFinish {
		i.lastFinish = ts
	}
	i.Finish()
}

// Duration returns the root's end minus its start. Zero until finished.
func (i *Interaction) Duration() time.Duration {
	if !i.finished {
		return 0
	}
	return i.root.end - i.root.start
}
