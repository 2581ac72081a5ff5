package spatrace

import (
	"fmt"

	"github.com/randalmurphal/spatrace/pkg/spatrace/bus"
)

// ReportError records a page error. An error raised while an interaction is
// current is annotated with the interaction and node ids and held until the
// interaction finishes: it is aggregated as-is if the interaction is saved
// and at page scope if it is discarded. Other errors are aggregated at
// once. Every aggregated report is emitted as bus.ErrorAgg.
func (a *Agent) ReportError(r ErrorReport) {
	r = r.clone()
	if a.live() {
		i := a.cursor.Interaction()
		r.Params[ParamInteractionID] = i.ID()
		r.Params[ParamParentNodeID] = a.cursor.ID()
		a.pendingErrors[i.ID()] = append(a.pendingErrors[i.ID()], r)
		return
	}
	a.storeError(r)
}

// PendingErrors returns the number of reports held for unfinished
// interactions.
func (a *Agent) PendingErrors() int {
	n := 0
	for _, list := range a.pendingErrors {
		n += len(list)
	}
	return n
}

func (a *Agent) storeError(r ErrorReport) {
	key := r.Hash
	if id, ok := r.Params[ParamInteractionID]; ok {
		key = fmt.Sprintf("%s:%v", r.Hash, id)
	}
	a.errors.Store(r.Type, key, r.Params, r.Metrics, r.Custom)
	a.ee.Emit(bus.ErrorAgg, []any{r}, nil)
}
