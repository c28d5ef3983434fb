package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"}

// Defaults applied by [ApplyDefaults], mirroring the specification's
// configuration table.
const (
	DefaultListenAddr        = ":8080"
	DefaultTimezone          = "America/Chicago"
	DefaultBufferDebounce    = 1500 * time.Millisecond
	DefaultBufferMax         = 5 * time.Second
	DefaultEndDelay          = 3 * time.Second
	DefaultTerminalEndDelay  = 4 * time.Second
	DefaultMaxTurnsPerCall   = 30
	DefaultMaxTurnsPerState  = 5
	DefaultToolTimeout       = 10 * time.Second
	DefaultWebhookTimeout    = 10 * time.Second
	DefaultWebhookMaxRetries = 3
)

// DefaultServiceAreaPrefixes is the production out-of-area policy.
var DefaultServiceAreaPrefixes = []string{"787"}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued timing/policy fields with the
// specification's documented defaults. Safe to call on an already-populated
// config; it never overwrites a non-zero value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Dispatch.Timezone == "" {
		cfg.Dispatch.Timezone = DefaultTimezone
	}
	if cfg.Dispatch.BufferDebounce == 0 {
		cfg.Dispatch.BufferDebounce = DefaultBufferDebounce
	}
	if cfg.Dispatch.BufferMax == 0 {
		cfg.Dispatch.BufferMax = DefaultBufferMax
	}
	if cfg.Dispatch.EndDelay == 0 {
		cfg.Dispatch.EndDelay = DefaultEndDelay
	}
	if cfg.Dispatch.TerminalEndDelay == 0 {
		cfg.Dispatch.TerminalEndDelay = DefaultTerminalEndDelay
	}
	if cfg.Dispatch.MaxTurnsPerCall == 0 {
		cfg.Dispatch.MaxTurnsPerCall = DefaultMaxTurnsPerCall
	}
	if cfg.Dispatch.MaxTurnsPerState == 0 {
		cfg.Dispatch.MaxTurnsPerState = DefaultMaxTurnsPerState
	}
	if len(cfg.Dispatch.ServiceAreaPrefixes) == 0 {
		cfg.Dispatch.ServiceAreaPrefixes = slices.Clone(DefaultServiceAreaPrefixes)
	}
	if cfg.ToolAPI.Timeout == 0 {
		cfg.ToolAPI.Timeout = DefaultToolTimeout
	}
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = DefaultWebhookTimeout
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = DefaultWebhookMaxRetries
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !isValidLogLevel(cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateProviderName("providers.llm_primary", cfg.Providers.Primary.Name)
	validateProviderName("providers.llm_extraction", cfg.Providers.Extraction.Name)
	validateProviderName("providers.llm_fallback", cfg.Providers.Fallback.Name)

	if cfg.Providers.Primary.Name == "" {
		errs = append(errs, errors.New("providers.llm_primary.name is required"))
	}
	if cfg.Providers.Extraction.Name == "" {
		slog.Warn("providers.llm_extraction is not configured; falling back to llm_primary for extraction and classification")
	}

	if cfg.ToolAPI.BaseURL == "" {
		errs = append(errs, errors.New("tool_backend.base_url is required"))
	}

	if cfg.Webhook.BaseURL == "" {
		errs = append(errs, errors.New("webhook.base_url is required"))
	} else if !looksProduction(cfg.Webhook.BaseURL) {
		slog.Warn("webhook.base_url does not look like a production endpoint", "base_url", cfg.Webhook.BaseURL)
	}
	if cfg.Webhook.Secret == "" {
		errs = append(errs, errors.New("webhook.secret is required"))
	}
	if cfg.Webhook.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("webhook.max_retries %d must not be negative", cfg.Webhook.MaxRetries))
	}

	if cfg.Dispatch.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Dispatch.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("dispatch.timezone %q is invalid: %w", cfg.Dispatch.Timezone, err))
		}
	}
	if cfg.Dispatch.MaxTurnsPerState > cfg.Dispatch.MaxTurnsPerCall {
		errs = append(errs, fmt.Errorf("dispatch.max_turns_per_state (%d) must not exceed max_turns_per_call (%d)",
			cfg.Dispatch.MaxTurnsPerState, cfg.Dispatch.MaxTurnsPerCall))
	}
	if cfg.Dispatch.BufferDebounce > cfg.Dispatch.BufferMax {
		errs = append(errs, fmt.Errorf("dispatch.buffer_debounce_s (%s) must not exceed buffer_max_s (%s)",
			cfg.Dispatch.BufferDebounce, cfg.Dispatch.BufferMax))
	}
	for i, prefix := range cfg.Dispatch.ServiceAreaPrefixes {
		if strings.TrimSpace(prefix) == "" {
			errs = append(errs, fmt.Errorf("dispatch.service_area_prefixes[%d] must not be blank", i))
		}
	}

	if cfg.CallLog.PostgresDSN == "" {
		slog.Warn("call_log.postgres_dsn is empty; the durable call-log store is disabled, the scorecard will only be logged")
	}

	return errors.Join(errs...)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// looksProduction reports whether base looks like a production endpoint
// rather than a local/staging one. Used only to decide whether to emit the
// startup warning called for by the webhook delivery section.
func looksProduction(base string) bool {
	lower := strings.ToLower(base)
	for _, marker := range []string{"localhost", "127.0.0.1", "ngrok", ".local", "staging", "dev."} {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidProviderNames,
	)
}
