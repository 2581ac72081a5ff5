// Package harvest serializes finished interactions, queues them durably and
// delivers them in batches.
package harvest

import (
	"encoding/json"
	"maps"
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

// Version is the current payload format version.
// Increment when making breaking changes to the payload structure.
const Version = 1

// Payload is one saved interaction in wire form.
type Payload struct {
	Version       int       `json:"version"`
	SessionID     string    `json:"session_id"`
	InteractionID int64     `json:"interaction_id"`
	CapturedAt    time.Time `json:"captured_at"`
	Root          *Node     `json:"root"`
}

// Node is the wire form of an interaction tree node. Offsets are
// milliseconds from the page's time origin.
type Node struct {
	ID       int64   `json:"id"`
	Type     string  `json:"type"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	JSEnd    float64 `json:"jsEnd"`
	JSTime   float64 `json:"jsTime"`
	Attrs    Attrs   `json:"attrs"`
	Children []*Node `json:"children,omitempty"`
}

// Attrs is the wire form of a node's attribute bag.
type Attrs struct {
	Name           string `json:"name,omitempty"`
	Trigger        string `json:"trigger,omitempty"`
	CustomName     string `json:"customName,omitempty"`
	InitialPageURL string `json:"initialPageURL,omitempty"`
	OldURL         string `json:"oldURL,omitempty"`
	NewURL         string `json:"newURL,omitempty"`
	OldRoute       string `json:"oldRoute,omitempty"`
	NewRoute       string `json:"newRoute,omitempty"`

	Method   string  `json:"method,omitempty"`
	Host     string  `json:"host,omitempty"`
	Pathname string  `json:"pathname,omitempty"`
	Status   int     `json:"status,omitempty"`
	TxSize   int64   `json:"txSize,omitempty"`
	RxSize   int64   `json:"rxSize,omitempty"`
	CbTime   float64 `json:"cbTime,omitempty"`
	IsFetch  bool    `json:"isFetch,omitempty"`

	Custom map[string]any `json:"custom,omitempty"`
}

// Serialize converts a finished interaction to its wire form. It returns
// nil for an unfinished interaction.
func Serialize(sessionID string, i *ixn.Interaction) *Payload {
	if i == nil || !i.Finished() {
		return nil
	}
	return &Payload{
		Version:       Version,
		SessionID:     sessionID,
		InteractionID: i.ID(),
		CapturedAt:    time.Now().UTC(),
		Root:          serializeNode(i.Root()),
	}
}

func serializeNode(n *ixn.Node) *Node {
	a := n.Attrs
	out := &Node{
		ID:     n.ID(),
		Type:   string(n.Type()),
		Start:  clock.Millis(n.Start()),
		End:    clock.Millis(n.End()),
		JSEnd:  clock.Millis(n.JSEnd()),
		JSTime: clock.Millis(n.JSTime()),
		Attrs: Attrs{
			Name:           a.Name,
			Trigger:        a.Trigger,
			CustomName:     a.CustomName,
			InitialPageURL: a.InitialPageURL,
			OldURL:         a.OldURL,
			NewURL:         a.NewURL,
			OldRoute:       a.OldRoute,
			NewRoute:       a.NewRoute,
			IsFetch:        a.IsFetch,
		},
	}
	if len(a.Custom) > 0 {
		out.Attrs.Custom = maps.Clone(a.Custom)
	}
	if p := a.Params; p != nil {
		out.Attrs.Method = p.Method
		out.Attrs.Host = p.Host
		out.Attrs.Pathname = p.Pathname
		out.Attrs.Status = p.Status
	}
	if m := a.Metrics; m != nil {
		out.Attrs.TxSize = m.TxSize
		out.Attrs.RxSize = m.RxSize
		out.Attrs.CbTime = clock.Millis(m.CbTime)
	}

	for _, c := range n.Children() {
		out.Children = append(out.Children, serializeNode(c))
	}
	return out
}

// Marshal serializes the payload to JSON.
func (p *Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal deserializes a payload from JSON.
func Unmarshal(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Walk visits every node of the payload depth first.
func (p *Payload) Walk(fn func(*Node)) {
	var walk func(*Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		fn(n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(p.Root)
}
