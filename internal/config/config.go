// Package config loads and validates the olivaw configuration file.
package config

import (
	"github.com/daneel/olivaw/internal/logger"
)

// Config is the main olivaw configuration.
type Config struct {
	// Providers maps provider ids to their model catalog.
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	// Auth is the ordered list of credential profiles; lower Priority
	// wins.
	Auth []AuthProfileConfig `json:"auth" mapstructure:"auth"`

	// Proxy routes completions through a gateway when enabled.
	Proxy ProxyConfig `json:"proxy" mapstructure:"proxy"`

	// Engine tunes the run loop and context preparation.
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Tools is the global tool policy.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Metrics exposes the Prometheus endpoint when enabled.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging logger.Config `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ProviderConfig describes one provider's model catalog.
type ProviderConfig struct {
	DefaultModel string        `json:"default_model" mapstructure:"default_model"`
	BaseURL      string        `json:"base_url" mapstructure:"base_url"`
	Models       []ModelConfig `json:"models" mapstructure:"models"`
}

// ModelConfig describes one model a provider serves.
type ModelConfig struct {
	ID            string `json:"id" mapstructure:"id"`
	ContextWindow int    `json:"context_window" mapstructure:"context_window"`
}

// AuthProfileConfig is one credential profile.
type AuthProfileConfig struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"`
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ProxyConfig routes completions through a gateway holding the real
// credentials.
type ProxyConfig struct {
	Enabled  bool              `json:"enabled" mapstructure:"enabled"`
	Provider string            `json:"provider" mapstructure:"provider"`
	Model    string            `json:"model" mapstructure:"model"`
	BaseURL  string            `json:"base_url" mapstructure:"base_url"`
	Headers  map[string]string `json:"headers" mapstructure:"headers"`
}

// EngineConfig tunes the run loop.
type EngineConfig struct {
	MaxSteps        int     `json:"max_steps" mapstructure:"max_steps"`
	MaxHistoryTurns int     `json:"max_history_turns" mapstructure:"max_history_turns"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	ReserveTokens   int     `json:"reserve_tokens" mapstructure:"reserve_tokens"`

	// TimeoutSeconds bounds one whole run; zero disables the deadline.
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ToolsConfig is the global tool policy plus execution limits.
type ToolsConfig struct {
	Allow          []string `json:"allow" mapstructure:"allow"`
	Deny           []string `json:"deny" mapstructure:"deny"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderConfig{
			"anthropic": {
				DefaultModel: "claude-sonnet-4-5",
				Models: []ModelConfig{
					{ID: "claude-sonnet-4-5", ContextWindow: 200000},
					{ID: "claude-haiku-4-5", ContextWindow: 200000},
				},
			},
			"openai": {
				DefaultModel: "gpt-4o",
				Models: []ModelConfig{
					{ID: "gpt-4o", ContextWindow: 128000},
					{ID: "gpt-4o-mini", ContextWindow: 128000},
				},
			},
		},
		Engine: EngineConfig{
			MaxSteps:    25,
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Tools: ToolsConfig{
			Allow:          []string{"*"},
			TimeoutSeconds: 60,
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
		Logging: logger.DefaultConfig(),
	}
}
