// Package errors classifies failures seen by the tracing engine and its
// harvest pipeline, and provides the retry policy used when shipping data.
//
// The engine itself never returns errors to the host page. Failures fall
// into three engine categories:
//   - Exhausted: a resource cap was hit (node cap, timer budget); tracing of
//     that branch silently stops.
//   - Protocol: an async primitive reported events out of order; the event
//     is ignored.
//   - Host: a wrapped host callback panicked; it is logged and swallowed.
//
// Delivery failures (harvest) are Transient or Permanent.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryPermanent indicates retry won't help.
	CategoryPermanent Category = iota

	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, 5xx from the collector, timeouts.
	CategoryTransient

	// CategoryExhausted indicates a tracing resource cap was reached.
	CategoryExhausted

	// CategoryProtocol indicates an out-of-order lifecycle event.
	CategoryProtocol

	// CategoryHost indicates a failure inside instrumented host code.
	CategoryHost
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryPermanent:
		return "permanent"
	case CategoryTransient:
		return "transient"
	case CategoryExhausted:
		return "exhausted"
	case CategoryProtocol:
		return "protocol"
	case CategoryHost:
		return "host"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of delivery attempts that were made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryTransient, Context: context}
}

// Permanent marks err as not retryable.
func Permanent(err error, context string) *CategorizedError {
	return &CategorizedError{Err: err, Category: CategoryPermanent, Context: context}
}

// Categorize determines how an error should be handled.
// Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var hostErr *HostError
	if errors.As(err, &hostErr) {
		return CategoryHost
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return CategoryProtocol
	}

	var capErr *ExhaustedError
	if errors.As(err, &capErr) {
		return CategoryExhausted
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 408, httpErr.StatusCode == 429:
			return CategoryTransient
		case httpErr.StatusCode >= 500:
			return CategoryTransient
		default:
			return CategoryPermanent
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
