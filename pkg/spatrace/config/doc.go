/*
Package config loads agent configuration.

# Raw Documents

Config wraps a decoded YAML or JSON document and extracts typed values,
falling back to a default when a key is missing or has the wrong shape:

	cfg, err := config.FromFile("spatrace.yaml")
	if err != nil {
	    return err
	}
	budget := cfg.Duration("timer_budget", 999*time.Millisecond)

Durations accept Go duration strings ("999ms", "30s") or bare numbers of
seconds.

# Settings

Settings is the typed view used by the agent. LoadSettings reads a file,
then applies SPATRACE_* environment variables on top:

	s, err := config.LoadSettings("spatrace.yaml")

Recognised file keys: enabled, abort_after, timer_budget, deny_list,
interaction_events, harvest_interval, harvest_batch, store_path,
custom_attributes.

The per-interaction node limit is not configurable; Settings.MaxNodes
reports it.
*/
package config
