package config_test

import (
	"testing"
	"time"

	"github.com/rbaset5/calllock-server-sub001/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "info"},
		Dispatch: config.DispatchConfig{ServiceAreaPrefixes: []string{"787"}},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.ServiceAreaChanged {
		t.Error("expected ServiceAreaChanged=false for identical configs")
	}
	if d.DispatchTimingChanged {
		t.Error("expected DispatchTimingChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: "info"}}
	newCfg := &config.Config{Server: config.ServerConfig{LogLevel: "debug"}}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != "debug" {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_ServiceAreaChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Dispatch: config.DispatchConfig{ServiceAreaPrefixes: []string{"787"}}}
	newCfg := &config.Config{Dispatch: config.DispatchConfig{ServiceAreaPrefixes: []string{"787", "939"}}}

	d := config.Diff(old, newCfg)
	if !d.ServiceAreaChanged {
		t.Error("expected ServiceAreaChanged=true")
	}
	if len(d.NewServiceArea) != 2 {
		t.Errorf("expected 2 prefixes, got %d", len(d.NewServiceArea))
	}
}

func TestDiff_TimingChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Dispatch: config.DispatchConfig{BufferDebounce: 1500 * time.Millisecond}}
	newCfg := &config.Config{Dispatch: config.DispatchConfig{BufferDebounce: 2 * time.Second}}

	d := config.Diff(old, newCfg)
	if !d.DispatchTimingChanged {
		t.Error("expected DispatchTimingChanged=true")
	}
	if d.NewDispatch.BufferDebounce != 2*time.Second {
		t.Errorf("expected NewDispatch.BufferDebounce=2s, got %s", d.NewDispatch.BufferDebounce)
	}
}

func TestDiff_MultipleChanges(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Server:   config.ServerConfig{LogLevel: "info"},
		Dispatch: config.DispatchConfig{MaxTurnsPerCall: 30, ServiceAreaPrefixes: []string{"787"}},
	}
	newCfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: "warn"},
		Dispatch: config.DispatchConfig{MaxTurnsPerCall: 40, ServiceAreaPrefixes: []string{"787", "939"}},
	}

	d := config.Diff(old, newCfg)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if !d.DispatchTimingChanged {
		t.Error("expected DispatchTimingChanged=true")
	}
	if !d.ServiceAreaChanged {
		t.Error("expected ServiceAreaChanged=true")
	}
}
