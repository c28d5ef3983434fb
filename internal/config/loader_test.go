package config_test

import (
	"strings"
	"testing"

	"github.com/rbaset5/calllock-server-sub001/internal/config"
)

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	found := false
	for _, n := range config.ValidProviderNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames should contain \"openai\"")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: shouting
dispatch:
  max_turns_per_call: 5
  max_turns_per_state: 10
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "max_turns_per_state") {
		t.Errorf("error should mention max_turns_per_state, got: %v", err)
	}
	if !strings.Contains(errStr, "llm_primary") {
		t.Errorf("error should mention llm_primary, got: %v", err)
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  made_up_field: true
providers:
  llm_primary:
    name: openai
tool_backend:
  base_url: https://backend.example.com
webhook:
  base_url: https://dispatch.example.com
  secret: s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected decode error for unknown field, got nil")
	}
}

func TestApplyDefaults_DoesNotOverwrite(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Dispatch: config.DispatchConfig{
			Timezone:        "America/New_York",
			MaxTurnsPerCall: 12,
		},
	}
	config.ApplyDefaults(cfg)
	if cfg.Dispatch.Timezone != "America/New_York" {
		t.Errorf("expected timezone preserved, got %q", cfg.Dispatch.Timezone)
	}
	if cfg.Dispatch.MaxTurnsPerCall != 12 {
		t.Errorf("expected max_turns_per_call preserved, got %d", cfg.Dispatch.MaxTurnsPerCall)
	}
	if cfg.Dispatch.MaxTurnsPerState != config.DefaultMaxTurnsPerState {
		t.Errorf("expected max_turns_per_state defaulted, got %d", cfg.Dispatch.MaxTurnsPerState)
	}
}
