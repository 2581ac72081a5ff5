package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/randalmurphal/spatrace/pkg/spatrace/ixn"
)

// ErrInvalidSettings is wrapped by every Settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Default setting values.
const (
	DefaultAbortAfter      = 30 * time.Second
	DefaultTimerBudget     = 999 * time.Millisecond
	DefaultHarvestInterval = 10 * time.Second
	DefaultHarvestBatch    = 50
	DefaultStorePath       = ":memory:"
)

// DefaultInteractionEvents are the DOM events that start an interaction.
var DefaultInteractionEvents = []string{"click", "submit", "keypress", "keydown", "keyup", "change"}

// Settings is the typed agent configuration.
type Settings struct {
	// Enabled turns interaction tracking on.
	Enabled bool `env:"SPATRACE_ENABLED"`

	// AbortAfter is how long after bootstrap the bus aborts if the feature
	// never loaded.
	AbortAfter time.Duration `env:"SPATRACE_ABORT_AFTER"`

	// TimerBudget caps the total timer delay awaited per callback turn.
	TimerBudget time.Duration `env:"SPATRACE_TIMER_BUDGET"`

	// DenyList holds hosts whose requests are never traced.
	DenyList []string `env:"SPATRACE_DENY_LIST" envSeparator:","`

	// InteractionEvents are the DOM event types that start interactions.
	InteractionEvents []string `env:"SPATRACE_INTERACTION_EVENTS" envSeparator:","`

	HarvestInterval time.Duration `env:"SPATRACE_HARVEST_INTERVAL"`
	HarvestBatch    int           `env:"SPATRACE_HARVEST_BATCH"`

	// StorePath is a SQLite file path, or ":memory:" for the in-memory store.
	StorePath string `env:"SPATRACE_STORE_PATH"`

	// CustomAttributes are merged into every finished interaction.
	CustomAttributes map[string]any
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Enabled:           true,
		AbortAfter:        DefaultAbortAfter,
		TimerBudget:       DefaultTimerBudget,
		InteractionEvents: slices.Clone(DefaultInteractionEvents),
		HarvestInterval:   DefaultHarvestInterval,
		HarvestBatch:      DefaultHarvestBatch,
		StorePath:         DefaultStorePath,
		CustomAttributes:  map[string]any{},
	}
}

// SettingsFrom extracts Settings from a loaded Config. Missing keys keep
// their defaults.
func SettingsFrom(c Config) Settings {
	d := DefaultSettings()
	return Settings{
		Enabled:           c.Bool("enabled", d.Enabled),
		AbortAfter:        c.Duration("abort_after", d.AbortAfter),
		TimerBudget:       c.Duration("timer_budget", d.TimerBudget),
		DenyList:          c.StringSlice("deny_list", d.DenyList),
		InteractionEvents: c.StringSlice("interaction_events", d.InteractionEvents),
		HarvestInterval:   c.Duration("harvest_interval", d.HarvestInterval),
		HarvestBatch:      c.Int("harvest_batch", d.HarvestBatch),
		StorePath:         c.String("store_path", d.StorePath),
		CustomAttributes:  maps.Clone(c.Map("custom_attributes", d.CustomAttributes)),
	}
}

// MaxNodes returns the per-interaction node limit. It is fixed.
func (Settings) MaxNodes() int {
	return ixn.MaxNodes
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	switch {
	case s.AbortAfter <= 0:
		return fmt.Errorf("%w: abort_after must be positive, got %s", ErrInvalidSettings, s.AbortAfter)
	case s.TimerBudget < 0:
		return fmt.Errorf("%w: timer_budget must not be negative, got %s", ErrInvalidSettings, s.TimerBudget)
	case s.HarvestInterval <= 0:
		return fmt.Errorf("%w: harvest_interval must be positive, got %s", ErrInvalidSettings, s.HarvestInterval)
	case s.HarvestBatch <= 0:
		return fmt.Errorf("%w: harvest_batch must be positive, got %d", ErrInvalidSettings, s.HarvestBatch)
	case len(s.InteractionEvents) == 0:
		return fmt.Errorf("%w: interaction_events must not be empty", ErrInvalidSettings)
	}
	return nil
}

// Denied reports whether host is on the deny list.
func (s Settings) Denied(host string) bool {
	return slices.Contains(s.DenyList, host)
}
