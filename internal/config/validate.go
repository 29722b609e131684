package config

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/output"
)

// ValidationError reports one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Profile != "" {
		if _, ok := profiles[c.Profile]; !ok {
			return invalid("profile", "must be one of %s", strings.Join(Profiles(), ", "))
		}
	}

	if err := c.Audio.Validate(); err != nil {
		return invalid("audio", "%v", err)
	}
	if c.Capture.MaxDuration <= 0 {
		return invalid("capture.max_duration", "must be positive")
	}
	if c.Capture.SilenceThreshold <= 0 || c.Capture.SilenceThreshold >= 1 {
		return invalid("capture.silence_threshold", "must be between 0 and 1")
	}

	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return invalid("router.confidence_threshold", "must be between 0 and 1")
	}

	switch c.Providers.Primary {
	case BackendGeminiCLI, BackendOllama, BackendOpenAI, BackendMock:
	default:
		return invalid("providers.primary", "unknown backend %q", c.Providers.Primary)
	}
	switch c.Providers.Local {
	case "", BackendOllama:
	default:
		return invalid("providers.local", "must be empty or %q", BackendOllama)
	}
	if c.Providers.Timeout <= 0 {
		return invalid("providers.timeout", "must be positive")
	}
	if c.Providers.MaxRetries < 0 {
		return invalid("providers.max_retries", "must not be negative")
	}
	if c.Providers.Primary == BackendOpenAI && c.Providers.OpenAI.APIKey == "" {
		return invalid("providers.openai.api_key", "required for the openai backend")
	}

	for field, v := range map[string]int{
		"safety.risk_threshold_voice": c.Safety.VoiceThreshold,
		"safety.risk_threshold_gui":   c.Safety.GUIThreshold,
	} {
		if v < 0 || v > 10 {
			return invalid(field, "must be between 0 and 10")
		}
	}

	if c.Tokens.MaxContextChars <= 0 {
		return invalid("token_economy.max_context_chars", "must be positive")
	}
	if c.Tokens.MaxTurns <= 0 {
		return invalid("token_economy.max_turns", "must be positive")
	}
	if c.Tokens.MaxOutputTokens <= 0 {
		return invalid("token_economy.max_output_tokens", "must be positive")
	}

	if c.Confirmation.Enabled && c.Confirmation.Timeout <= 0 {
		return invalid("confirmation.timeout", "must be positive")
	}

	switch output.Mode(c.Output.Mode) {
	case output.ModeNone, output.ModeClipboard, output.ModeType, output.ModeBoth:
	default:
		return invalid("output.mode", "must be none, clipboard, type or both")
	}

	if c.API.Addr == "" {
		return invalid("api.addr", "must not be empty")
	}
	if c.Runs.Max < 0 {
		return invalid("runs.max", "must not be negative")
	}
	if c.Events.History <= 0 {
		return invalid("events.history", "must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case log.FormatPretty, log.FormatText, log.FormatJSON:
	default:
		return invalid("log.format", "must be pretty, text or json")
	}
	return nil
}
