package spatrace

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/clock"
	"github.com/randalmurphal/spatrace/pkg/spatrace/config"
	"github.com/randalmurphal/spatrace/pkg/spatrace/harvest"
	"github.com/randalmurphal/spatrace/pkg/spatrace/observability"
)

// agentConfig holds configuration for an Agent.
type agentConfig struct {
	scheduler  clock.Scheduler
	settings   config.Settings
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	harvester  *harvest.Harvester
	sessionID  string
	origin     time.Time
	url        string
	route      string
	pageLoaded bool
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		settings: config.DefaultSettings(),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		origin:   time.Now(),
	}
}

// Option configures an Agent.
type Option func(*agentConfig)

// WithScheduler sets the time source and task queue the agent runs on.
// Default: a new clock.Loop, which the caller must Run.
func WithScheduler(s clock.Scheduler) Option {
	return func(c *agentConfig) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithSettings replaces the default settings.
func WithSettings(s config.Settings) Option {
	return func(c *agentConfig) {
		c.settings = s
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *agentConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics recorder. Default: no-op.
//
// Example:
//
//	agent := spatrace.New(spatrace.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *agentConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets where saved interaction trees are exported as spans.
// Default: no-op.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *agentConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithHarvester queues every saved interaction on h.
func WithHarvester(h *harvest.Harvester) Option {
	return func(c *agentConfig) {
		c.harvester = h
	}
}

// WithSessionID sets the session id stamped on harvest payloads.
// Default: the harvester's session id, or a random UUID.
func WithSessionID(id string) Option {
	return func(c *agentConfig) {
		c.sessionID = id
	}
}

// WithTimeOrigin sets the wall time that scheduler offset zero corresponds
// to. Used when exporting spans. Default: the time New was called.
func WithTimeOrigin(t time.Time) Option {
	return func(c *agentConfig) {
		c.origin = t
	}
}

// WithURL sets the page URL (and optionally route name) the agent starts
// on.
func WithURL(url string, route ...string) Option {
	return func(c *agentConfig) {
		c.url = url
		if len(route) > 0 {
			c.route = route[0]
		}
	}
}

// WithPageLoaded starts the agent on a page whose load event already
// fired. No initial page load interaction is created.
func WithPageLoaded() Option {
	return func(c *agentConfig) {
		c.pageLoaded = true
	}
}
