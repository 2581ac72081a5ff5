package spatrace

import "errors"

// Sentinel errors for agent lifecycle.
var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("agent already started")

	// ErrDisabled indicates Start was called with interaction tracking
	// turned off in the settings.
	ErrDisabled = errors.New("interaction tracking disabled")
)
