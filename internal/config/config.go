// Package config provides the configuration schema, loader, and provider registry
// for the calllock dispatcher voice-agent core.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the dispatcher core.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	ToolAPI   ToolAPIConfig   `yaml:"tool_backend"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	CallLog   CallLogConfig   `yaml:"call_log"`
}

// ServerConfig holds network and logging settings for the dispatcher server.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`
}

// ProvidersConfig declares which provider implementation to use for each
// LLM role. Each field selects a named provider registered in the [Registry].
//
// Telephony transport, VAD, STT, and TTS are external collaborators per the
// core's scope and are not configured here; they are supplied by the
// surrounding pipeline framework.
type ProvidersConfig struct {
	// Primary is the conversational LLM used to generate spoken replies.
	Primary ProviderEntry `yaml:"llm_primary"`

	// Extraction is the (typically smaller/cheaper) LLM used for field
	// extraction and post-call classification.
	Extraction ProviderEntry `yaml:"llm_extraction"`

	// Fallback is an optional secondary LLM the conversational role fails
	// over to when Primary's circuit breaker opens. Leave Name empty to run
	// without failover.
	Fallback ProviderEntry `yaml:"llm_fallback"`
}

// ProviderEntry is the common configuration block shared by both LLM roles.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// DispatchConfig holds the deterministic-core timing and policy knobs
// enumerated in the specification's configuration table.
type DispatchConfig struct {
	// Timezone is the IANA timezone used by resolve_booking_time.
	// Defaults to "America/Chicago".
	Timezone string `yaml:"timezone"`

	// BufferDebounce is the post-tool debounce window. Defaults to 1.5s.
	BufferDebounce time.Duration `yaml:"buffer_debounce_s"`

	// BufferMax is the hard cap on post-tool buffering. Defaults to 5s.
	BufferMax time.Duration `yaml:"buffer_max_s"`

	// EndDelay is the goodbye delay for ordinary call termination. Defaults to 3s.
	EndDelay time.Duration `yaml:"end_delay_s"`

	// TerminalEndDelay is the goodbye delay after a terminal-response flow
	// (e.g. the callback state's closing line). Defaults to 4s.
	TerminalEndDelay time.Duration `yaml:"terminal_end_delay_s"`

	// MaxTurnsPerCall is the hard ceiling on turn_count. Defaults to 30.
	MaxTurnsPerCall int `yaml:"max_turns_per_call"`

	// MaxTurnsPerState is the per-state ceiling on state_turn_count. Defaults to 5.
	MaxTurnsPerState int `yaml:"max_turns_per_state"`

	// ServiceAreaPrefixes is the set of allowed ZIP code prefixes. Defaults to {"787"}.
	ServiceAreaPrefixes []string `yaml:"service_area_prefixes"`
}

// UnmarshalYAML decodes DispatchConfig's duration fields from strings like
// "1.5s" — gopkg.in/yaml.v3 special-cases time.Time but not time.Duration,
// so the numeric fields are decoded through a shadow struct and parsed with
// time.ParseDuration instead of landing on yaml.v3's bare-integer default.
func (d *DispatchConfig) UnmarshalYAML(value *yaml.Node) error {
	var plain struct {
		Timezone            string   `yaml:"timezone"`
		BufferDebounce      string   `yaml:"buffer_debounce_s"`
		BufferMax           string   `yaml:"buffer_max_s"`
		EndDelay            string   `yaml:"end_delay_s"`
		TerminalEndDelay    string   `yaml:"terminal_end_delay_s"`
		MaxTurnsPerCall     int      `yaml:"max_turns_per_call"`
		MaxTurnsPerState    int      `yaml:"max_turns_per_state"`
		ServiceAreaPrefixes []string `yaml:"service_area_prefixes"`
	}
	if err := value.Decode(&plain); err != nil {
		return err
	}

	bufferDebounce, err := parseDurationField("dispatch.buffer_debounce_s", plain.BufferDebounce)
	if err != nil {
		return err
	}
	bufferMax, err := parseDurationField("dispatch.buffer_max_s", plain.BufferMax)
	if err != nil {
		return err
	}
	endDelay, err := parseDurationField("dispatch.end_delay_s", plain.EndDelay)
	if err != nil {
		return err
	}
	terminalEndDelay, err := parseDurationField("dispatch.terminal_end_delay_s", plain.TerminalEndDelay)
	if err != nil {
		return err
	}

	d.Timezone = plain.Timezone
	d.BufferDebounce = bufferDebounce
	d.BufferMax = bufferMax
	d.EndDelay = endDelay
	d.TerminalEndDelay = terminalEndDelay
	d.MaxTurnsPerCall = plain.MaxTurnsPerCall
	d.MaxTurnsPerState = plain.MaxTurnsPerState
	d.ServiceAreaPrefixes = plain.ServiceAreaPrefixes
	return nil
}

// parseDurationField parses s as a time.Duration, treating an empty string
// (the field was omitted) as the zero value so [ApplyDefaults] can still
// fill it in.
func parseDurationField(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q: %w", field, s, err)
	}
	return d, nil
}

// ToolAPIConfig configures the tool adapter HTTP client.
type ToolAPIConfig struct {
	// BaseURL is the base URL of the external booking/lookup backend.
	BaseURL string `yaml:"base_url"`

	// AuthToken is sent as a bearer token on every request.
	AuthToken string `yaml:"auth_token"`

	// Timeout bounds each tool call. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout_s"`
}

// UnmarshalYAML decodes Timeout from a duration string; see
// [DispatchConfig.UnmarshalYAML] for why this is needed.
func (c *ToolAPIConfig) UnmarshalYAML(value *yaml.Node) error {
	var plain struct {
		BaseURL   string `yaml:"base_url"`
		AuthToken string `yaml:"auth_token"`
		Timeout   string `yaml:"timeout_s"`
	}
	if err := value.Decode(&plain); err != nil {
		return err
	}
	timeout, err := parseDurationField("tool_backend.timeout_s", plain.Timeout)
	if err != nil {
		return err
	}
	c.BaseURL = plain.BaseURL
	c.AuthToken = plain.AuthToken
	c.Timeout = timeout
	return nil
}

// WebhookConfig configures the signed post-call webhook client.
type WebhookConfig struct {
	// BaseURL is the base URL of the dashboard/webhook receiver.
	BaseURL string `yaml:"base_url"`

	// Secret is the shared HMAC-SHA256 signing secret.
	Secret string `yaml:"secret"`

	// Timeout bounds each webhook POST. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout_s"`

	// MaxRetries bounds delivery attempts per endpoint. Defaults to 3.
	MaxRetries int `yaml:"max_retries"`
}

// UnmarshalYAML decodes Timeout from a duration string; see
// [DispatchConfig.UnmarshalYAML] for why this is needed.
func (c *WebhookConfig) UnmarshalYAML(value *yaml.Node) error {
	var plain struct {
		BaseURL    string `yaml:"base_url"`
		Secret     string `yaml:"secret"`
		Timeout    string `yaml:"timeout_s"`
		MaxRetries int    `yaml:"max_retries"`
	}
	if err := value.Decode(&plain); err != nil {
		return err
	}
	timeout, err := parseDurationField("webhook.timeout_s", plain.Timeout)
	if err != nil {
		return err
	}
	c.BaseURL = plain.BaseURL
	c.Secret = plain.Secret
	c.Timeout = timeout
	c.MaxRetries = plain.MaxRetries
	return nil
}

// CallLogConfig configures the optional durable call-log store.
// Leaving PostgresDSN empty disables durable call logging; the scorecard is
// still emitted as a structured log line regardless.
type CallLogConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the call-log store.
	PostgresDSN string `yaml:"postgres_dsn"`
}
