package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that are safe to hot-reload into a running dispatcher are
// tracked; provider credentials and backend URLs require a restart and are
// intentionally not diffed here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     string

	DispatchTimingChanged bool
	NewDispatch           DispatchConfig

	ServiceAreaChanged bool
	NewServiceArea     []string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply to in-flight calls without a
// process restart — see [ConfigDiff].
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Dispatch.ServiceAreaPrefixes, new.Dispatch.ServiceAreaPrefixes) {
		d.ServiceAreaChanged = true
		d.NewServiceArea = slices.Clone(new.Dispatch.ServiceAreaPrefixes)
	}

	if dispatchTimingChanged(old.Dispatch, new.Dispatch) {
		d.DispatchTimingChanged = true
		d.NewDispatch = new.Dispatch
	}

	return d
}

// dispatchTimingChanged reports whether any timing/turn-limit knob differs.
// Service-area prefixes are tracked separately via [ConfigDiff.ServiceAreaChanged].
func dispatchTimingChanged(old, new DispatchConfig) bool {
	return old.Timezone != new.Timezone ||
		old.BufferDebounce != new.BufferDebounce ||
		old.BufferMax != new.BufferMax ||
		old.EndDelay != new.EndDelay ||
		old.TerminalEndDelay != new.TerminalEndDelay ||
		old.MaxTurnsPerCall != new.MaxTurnsPerCall ||
		old.MaxTurnsPerState != new.MaxTurnsPerState
}
