package errors

import "fmt"

// HostError captures a panic raised by instrumented host code.
type HostError struct {
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("host callback panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *HostError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ProtocolError describes a lifecycle event that arrived out of order.
type ProtocolError struct {
	Event  string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation on %s: %s", e.Event, e.Reason)
}

// ExhaustedError describes a tracing resource cap being hit.
type ExhaustedError struct {
	Resource string
	Limit    int
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s limit reached (%d)", e.Resource, e.Limit)
}

// HTTPError represents a collector response with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
