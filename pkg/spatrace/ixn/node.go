package ixn

import (
	"slices"
	"sync/atomic"
	"time"
)

// NodeType classifies a node in an interaction tree.
type NodeType string

// Node types.
const (
	TypeInteraction  NodeType = "interaction"
	TypeAjax         NodeType = "ajax"
	TypeCustomTracer NodeType = "customTracer"
	TypeCustomEnd    NodeType = "customEnd"
)

// MaxNodes caps the number of child nodes one interaction may hold.
// Further Child calls return nil.
const MaxNodes = 128

var nodesSeen atomic.Int64

// AjaxParams describes the request behind an ajax node.
type AjaxParams struct {
	Method   string `json:"method"`
	Host     string `json:"host"`
	Pathname string `json:"pathname"`
	Status   int    `json:"status"`
}

// AjaxMetrics carries response sizes and callback time for an ajax node.
type AjaxMetrics struct {
	TxSize int64         `json:"txSize"`
	RxSize int64         `json:"rxSize"`
	CbTime time.Duration `json:"cbTime"`
}

// Attrs is a node's attribute bag. Which fields are set depends on the
// node type: interaction roots carry the trigger and URL/route fields, ajax
// nodes carry Params and Metrics, tracer nodes carry Name.
type Attrs struct {
	Name           string
	Trigger        string
	CustomName     string
	InitialPageURL string
	OldURL         string
	NewURL         string
	OldRoute       string
	NewRoute       string
	Params         *AjaxParams
	Metrics        *AjaxMetrics
	IsFetch        bool

	// Custom holds caller-set attributes on interaction roots.
	Custom map[string]any
	// Store is the caller's scratch space shared through getContext.
	Store map[string]any
}

// Node is one traced unit of asynchronous work.
//
// A node is created with a provisional parent and attaches itself to the
// nearest non-cancelled ancestor only when it finishes, so a tree contains
// only finished work.
type Node struct {
	id          int64
	interaction *Interaction
	parent      *Node
	owner       *Node
	children    []*Node
	typ         NodeType

	start  time.Duration
	jsEnd  time.Duration
	end    time.Duration
	jsTime time.Duration

	ended     bool
	cancelled bool
	awaited   bool

	Attrs Attrs
}

func newNode(ixn *Interaction, parent *Node, typ NodeType, ts time.Duration) *Node {
	return &Node{
		id:          nodesSeen.Add(1),
		interaction: ixn,
		parent:      parent,
		typ:         typ,
		start:       ts,
		jsEnd:       ts,
	}
}

// ID returns the process-unique node id.
func (n *Node) ID() int64 { return n.id }

// Interaction returns the interaction the node belongs to.
func (n *Node) Interaction() *Interaction { return n.interaction }

// Type returns the node type.
func (n *Node) Type() NodeType { return n.typ }

// Parent returns the provisional parent. It is nil for the root and for
// nodes that finished attached. A cancelled node keeps pointing upward.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the finished nodes attached under n. The slice must not
// be modified.
func (n *Node) Children() []*Node { return n.children }

// Start returns the node's start offset.
func (n *Node) Start() time.Duration { return n.start }

// End returns the node's end offset; zero until finished.
func (n *Node) End() time.Duration { return n.end }

// JSEnd returns the end of the node's last callback.
func (n *Node) JSEnd() time.Duration { return n.jsEnd }

// JSTime returns the exclusive time spent in the node's callbacks.
func (n *Node) JSTime() time.Duration { return n.jsTime }

// Finished reports whether Finish ran.
func (n *Node) Finished() bool { return n.ended }

// Cancelled reports whether Cancel ran.
func (n *Node) Cancelled() bool { return n.cancelled }

// Awaited reports whether the interaction waits for this node.
func (n *Node) Awaited() bool { return n.awaited }

// Child creates a node under n. It returns nil when the interaction has
// finished or already holds MaxNodes nodes. Unless dontWait is set the
// interaction stays open until the child finishes or is cancelled.
func (n *Node) Child(typ NodeType, ts time.Duration, name string, dontWait bool) *Node {
	ixn := n.interaction
	if ixn.finished {
		return nil
	}
	if ixn.nodes >= MaxNodes {
		ixn.dropped++
		return nil
	}

	child := newNode(ixn, n, typ, ts)
	child.Attrs.Name = name
	ixn.nodes++
	if !dontWait {
		child.awaited = true
		ixn.remaining++
		ixn.resetFinishCheck()
	}
	return child
}

// Wait makes the interaction wait for a node created with dontWait.
// It is a no-op for nodes already awaited, finished or cancelled.
func (n *Node) Wait() {
	if n.awaited || n.ended || n.cancelled || n.interaction.finished {
		return
	}
	n.awaited = true
	n.interaction.remaining++
	n.interaction.resetFinishCheck()
}

// Callback records one callback run attributed to n. exclusive is added to
// the node's jsTime; end advances jsEnd and the interaction's lastCb when it
// is newer.
func (n *Node) Callback(exclusive, end time.Duration) {
	n.jsTime += exclusive
	if end > n.jsEnd {
		n.jsEnd = end
		if end > n.interaction.lastCb {
			n.interaction.lastCb = end
		}
	}
}

// Finish ends the node at ts and attaches it to its nearest non-cancelled
// ancestor. Finishing twice or finishing the root is a no-op; a cancelled
// node only records ts and keeps its parent so that children finishing
// later can still skip over it.
func (n *Node) Finish(ts time.Duration) {
	ixn := n.interaction
	if n.ended || n == ixn.root {
		return
	}
	n.ended = true
	n.end = ts

	if n.cancelled {
		return
	}
	if ixn.finished {
		n.parent = nil
		return
	}

	if owner := n.liveAncestor(); owner != nil {
		owner.children = append(owner.children, n)
		n.owner = owner
	}
	n.parent = nil

	if n.awaited {
		ixn.release()
	}
	if ts > ixn.lastFinish {
		ixn.lastFinish = ts
	}
	ixn.CheckFinish("", "")
}

// Cancel removes n from the tree. Its children are moved to the nearest
// non-cancelled ancestor, and the interaction stops waiting for it.
func (n *Node) Cancel() {
	if n.cancelled || n == n.interaction.root {
		return
	}
	n.cancelled = true
	ixn := n.interaction

	if n.ended {
		// Already attached: splice n out of its owner.
		if owner := n.owner; owner != nil {
			if i := slices.Index(owner.children, n); i >= 0 {
				owner.children = slices.Delete(owner.children, i, i+1)
			}
			for _, c := range n.children {
				c.owner = owner
			}
			owner.children = append(owner.children, n.children...)
		}
		// Unfinished descendants still walk up through n.
		n.parent = n.owner
		n.children = nil
		n.owner = nil
		return
	}

	if owner := n.liveAncestor(); owner != nil && len(n.children) > 0 {
		for _, c := range n.children {
			c.owner = owner
		}
		owner.children = append(owner.children, n.children...)
		n.children = nil
	}

	if n.awaited && !ixn.finished {
		ixn.release()
		ixn.CheckFinish("", "")
	}
}

func (n *Node) liveAncestor() *Node {
	p := n.parent
	for p != nil && p.cancelled {
		p = p.parent
	}
	return p
}

// Walk visits n and its attached descendants depth first. Returning false
// from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}
