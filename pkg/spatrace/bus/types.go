package bus

// Type identifies a lifecycle event on the bus.
//
// The set is closed: host wrappers may only report the events listed here,
// and consumers switch over them exhaustively.
type Type uint8

// Generic callback bracket, emitted on the base emitter or bubbled from a
// category emitter.
const (
	TypeUnknown Type = iota

	// FnStart marks entry into a wrapped callback. args: [*DOMEvent] or [].
	FnStart
	// FnEnd marks exit from a wrapped callback.
	FnEnd
	// CbStart marks entry into a promise or JSONP callback.
	CbStart
	// CbEnd marks exit from a promise or JSONP callback.
	CbEnd

	// Load reports the window load event. args: [timestamp].
	Load
	// FeatureSPA announces that the interaction feature finished loading.
	FeatureSPA

	// XHR category.
	NewXHR
	SendXHRStart
	XHRResolved

	// Fetch category.
	FetchStart
	FetchDone
	FetchBodyStart
	FetchBodyEnd

	// JSONP category.
	NewJSONP
	JSONPEnd
	JSONPError

	// Promise category.
	NewPromise

	// Timer category.
	SetTimeoutEnd
	ClearTimeoutStart

	// History category.
	PushStateEnd
	ReplaceStateEnd
	NewURL

	// DOM category.
	DOMStart
	ScriptLoad
	ScriptError

	// Tracer category. NoFnStart is a tracer created without a callback.
	NoFnStart

	// Programmatic API, buffered in the "api" group until the feature loads.
	APIIxnGet
	APIIxnTracer
	APIIxnSetName
	APIIxnSetAttribute
	APIIxnActionText
	APIIxnIgnore
	APIIxnSave
	APIIxnEnd
	APIIxnOnEnd
	APIIxnGetContext
	APIRouteName

	// Outbound.
	InteractionSaved
	InteractionDiscarded
	ErrorAgg
	InternalError

	typeCount
)

var typeNames = [typeCount]string{
	TypeUnknown:          "unknown",
	FnStart:              "fn-start",
	FnEnd:                "fn-end",
	CbStart:              "cb-start",
	CbEnd:                "cb-end",
	Load:                 "load",
	FeatureSPA:           "feat-spa",
	NewXHR:               "new-xhr",
	SendXHRStart:         "send-xhr-start",
	XHRResolved:          "xhr-resolved",
	FetchStart:           "fetch-start",
	FetchDone:            "fetch-done",
	FetchBodyStart:       "fetch-body-start",
	FetchBodyEnd:         "fetch-body-end",
	NewJSONP:             "new-jsonp",
	JSONPEnd:             "jsonp-end",
	JSONPError:           "jsonp-error",
	NewPromise:           "new-promise",
	SetTimeoutEnd:        "setTimeout-end",
	ClearTimeoutStart:    "clearTimeout-start",
	PushStateEnd:         "pushState-end",
	ReplaceStateEnd:      "replaceState-end",
	NewURL:               "newURL",
	DOMStart:             "dom-start",
	ScriptLoad:           "script-load",
	ScriptError:          "script-error",
	NoFnStart:            "no-fn-start",
	APIIxnGet:            "api-ixn-get",
	APIIxnTracer:         "api-ixn-tracer",
	APIIxnSetName:        "api-ixn-setName",
	APIIxnSetAttribute:   "api-ixn-setAttribute",
	APIIxnActionText:     "api-ixn-actionText",
	APIIxnIgnore:         "api-ixn-ignore",
	APIIxnSave:           "api-ixn-save",
	APIIxnEnd:            "api-ixn-end",
	APIIxnOnEnd:          "api-ixn-onEnd",
	APIIxnGetContext:     "api-ixn-getContext",
	APIRouteName:         "api-routeName",
	InteractionSaved:     "interactionSaved",
	InteractionDiscarded: "interactionDiscarded",
	ErrorAgg:             "errorAgg",
	InternalError:        "internal-error",
}

// String returns the wire name of the event type.
func (t Type) String() string {
	if t >= typeCount {
		return "unknown"
	}
	return typeNames[t]
}

// ParseType maps a wire name back to its Type.
// Returns TypeUnknown and false for names outside the vocabulary.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name && Type(i) != TypeUnknown {
			return Type(i), true
		}
	}
	return TypeUnknown, false
}

// APITypes lists the programmatic API events buffered in the "api" group.
var APITypes = []Type{
	APIIxnGet,
	APIIxnTracer,
	APIIxnSetName,
	APIIxnSetAttribute,
	APIIxnActionText,
	APIIxnIgnore,
	APIIxnSave,
	APIIxnEnd,
	APIIxnOnEnd,
	APIIxnGetContext,
	APIRouteName,
}

// Backlog group names with abort semantics.
const (
	GroupAPI     = "api"
	GroupFeature = "feature"
)

// Emitter category names used with Emitter.Get.
const (
	CategoryXHR     = "xhr"
	CategoryFetch   = "fetch"
	CategoryJSONP   = "jsonp"
	CategoryPromise = "promise"
	CategoryTimer   = "timer"
	CategoryHistory = "history"
	CategoryDOM     = "dom"
	CategoryTracer  = "tracer"
	CategoryAPI     = "api"
)
