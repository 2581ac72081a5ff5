// Package observability provides logging, metrics and tracing for the
// spatrace engine itself.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Finished interaction trees exported as OpenTelemetry spans
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds interaction context to a logger.
//
// Example:
//
//	l := EnrichLogger(logger, 42, "click")
//	l.Debug("node started") // includes interaction_id, trigger
func EnrichLogger(logger *slog.Logger, interactionID int64, trigger string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int64("interaction_id", interactionID),
		slog.String("trigger", trigger),
	)
}

// LogInteractionStart logs the creation of an interaction.
func LogInteractionStart(logger *slog.Logger, interactionID int64, trigger string) {
	if logger == nil {
		return
	}
	EnrichLogger(logger, interactionID, trigger).Debug("interaction started")
}

// LogInteractionSaved logs a finished interaction that will be reported.
func LogInteractionSaved(logger *slog.Logger, interactionID int64, trigger string, durationMs float64, nodes int) {
	if logger == nil {
		return
	}
	EnrichLogger(logger, interactionID, trigger).Info("interaction saved",
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes", nodes),
	)
}

// LogInteractionDiscarded logs a finished interaction that was dropped.
func LogInteractionDiscarded(logger *slog.Logger, interactionID int64, trigger, reason string) {
	if logger == nil {
		return
	}
	EnrichLogger(logger, interactionID, trigger).Info("interaction discarded",
		slog.String("reason", reason),
	)
}

// LogNodeStart logs node creation.
func LogNodeStart(logger *slog.Logger, interactionID, nodeID int64, nodeType string) {
	if logger == nil {
		return
	}
	logger.Debug("node started",
		slog.Int64("interaction_id", interactionID),
		slog.Int64("node_id", nodeID),
		slog.String("node_type", nodeType),
	)
}

// LogNodeCancelled logs a node removed from its tree.
func LogNodeCancelled(logger *slog.Logger, interactionID, nodeID int64, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("node cancelled",
		slog.Int64("interaction_id", interactionID),
		slog.Int64("node_id", nodeID),
		slog.String("reason", reason),
	)
}

// LogNodeDropped logs a child refused because the interaction is full.
func LogNodeDropped(logger *slog.Logger, interactionID int64, limit int) {
	if logger == nil {
		return
	}
	logger.Warn("node limit reached, tracing stopped",
		slog.Int64("interaction_id", interactionID),
		slog.Int("limit", limit),
	)
}

// LogAbort logs the bus abort with the number of events left unhandled.
func LogAbort(logger *slog.Logger, pending int) {
	if logger == nil {
		return
	}
	logger.Warn("feature never loaded, event bus aborted",
		slog.Int("pending_events", pending),
	)
}

// LogInternalError logs a host instrumentation failure.
func LogInternalError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("instrumentation failed",
		slog.String("error", err.Error()),
	)
}

// LogHarvest logs a delivered harvest batch. durationMs covers every send
// attempt including retry backoff.
func LogHarvest(logger *slog.Logger, batchID string, records int, sizeBytes int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("harvest sent",
		slog.String("batch_id", batchID),
		slog.Int("records", records),
		slog.Int("size_bytes", sizeBytes),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogHarvestError logs a failed harvest (non-fatal, records are kept).
func LogHarvestError(logger *slog.Logger, batchID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("harvest failed",
		slog.String("batch_id", batchID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogStoreError logs a storage failure (non-fatal).
func LogStoreError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
