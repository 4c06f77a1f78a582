package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values.
type Validator struct{}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTemperature validates a temperature value.
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates a max tokens value.
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates a log level.
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.Auth {
		if strings.TrimSpace(profile.ID) == "" {
			errors = append(errors, fmt.Errorf("auth profile %d: id is required", i))
		}
		if strings.TrimSpace(profile.Provider) == "" {
			errors = append(errors, fmt.Errorf("auth profile %d (%s): provider is required", i, profile.ID))
			continue
		}
		if _, ok := cfg.Providers[profile.Provider]; !ok {
			errors = append(errors, fmt.Errorf("auth profile %d (%s): unknown provider %q", i, profile.ID, profile.Provider))
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("auth profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if cfg.Proxy.Enabled {
		if strings.TrimSpace(cfg.Proxy.BaseURL) == "" {
			errors = append(errors, fmt.Errorf("proxy.base_url is required when proxy is enabled"))
		}
		if len(cfg.Proxy.Headers) == 0 {
			errors = append(errors, fmt.Errorf("proxy.headers is required when proxy is enabled"))
		}
		if strings.TrimSpace(cfg.Proxy.Provider) == "" {
			errors = append(errors, fmt.Errorf("proxy.provider is required when proxy is enabled"))
		} else if _, ok := cfg.Providers[cfg.Proxy.Provider]; !ok {
			errors = append(errors, fmt.Errorf("proxy.provider %q is not a configured provider", cfg.Proxy.Provider))
		}
	}

	for id, provider := range cfg.Providers {
		if provider.DefaultModel == "" && len(provider.Models) == 0 {
			errors = append(errors, fmt.Errorf("provider %q: default_model or models is required", id))
		}
		for i, model := range provider.Models {
			if model.ContextWindow < 0 {
				errors = append(errors, fmt.Errorf("provider %q model %d: context_window must be >= 0", id, i))
			}
		}
	}

	if cfg.Engine.MaxSteps < 0 {
		errors = append(errors, fmt.Errorf("engine.max_steps must be >= 0"))
	}
	if cfg.Engine.MaxHistoryTurns < 0 {
		errors = append(errors, fmt.Errorf("engine.max_history_turns must be >= 0"))
	}
	if cfg.Engine.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Engine.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Engine.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Engine.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Engine.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("engine.timeout_seconds must be >= 0"))
	}

	if cfg.Tools.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout_seconds must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
