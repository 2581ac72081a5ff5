package spatrace

import (
	"maps"
	"strings"
	"time"
)

// DOMEvent is the argument of a user event callback bracketed on the root
// emitter.
type DOMEvent struct {
	// Type is the DOM event type, e.g. "click" or "hashchange".
	Type string
	// Target is the element the event was dispatched to. May be nil.
	Target *Element
	// Timestamp is the event's time offset. Zero means "now".
	Timestamp time.Duration
}

// Element describes a DOM element as seen by the dom-start and event
// wrappers.
type Element struct {
	TagName string
	ID      string
	Src     string
	Text    string
}

const maxActionText = 100

// actionText is the visible text used to label a click.
func (e *Element) actionText() string {
	if e == nil {
		return ""
	}
	text := strings.Join(strings.Fields(e.Text), " ")
	if len(text) > maxActionText {
		text = text[:maxActionText]
	}
	return text
}

func (e *Element) isScript() bool {
	return e != nil && strings.EqualFold(e.TagName, "script") && e.Src != ""
}

// ErrorReport is one page error handed to ReportError and emitted as
// bus.ErrorAgg.
type ErrorReport struct {
	// Type is the aggregation type, e.g. "err" or "ierr".
	Type string
	// Hash identifies the error (message plus stack fingerprint).
	Hash    string
	Params  map[string]any
	Metrics map[string]float64
	Custom  map[string]any
}

// Keys added to ErrorReport.Params for errors raised inside an interaction.
const (
	ParamInteractionID = "browserInteractionId"
	ParamParentNodeID  = "parentNodeId"
)

func (r ErrorReport) clone() ErrorReport {
	r.Params = maps.Clone(r.Params)
	if r.Params == nil {
		r.Params = make(map[string]any)
	}
	r.Metrics = maps.Clone(r.Metrics)
	r.Custom = maps.Clone(r.Custom)
	return r
}

// pageScoped strips interaction correlation from r.
func (r ErrorReport) pageScoped() ErrorReport {
	r = r.clone()
	delete(r.Params, ParamInteractionID)
	delete(r.Params, ParamParentNodeID)
	return r
}

// argAt returns args[i] as T.
func argAt[T any](args []any, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	return v, ok
}
