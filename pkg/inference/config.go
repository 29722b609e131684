package inference

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/tokens"
)

// DefaultApology is returned when every backend fails.
const DefaultApology = "Der Sprachassistent ist gerade nicht erreichbar. Bitte versuche es nochmal."

// DefaultHistoryMessages caps the rolling conversation history (12 turns).
const DefaultHistoryMessages = 24

// Config holds gateway configuration.
type Config struct {
	// Timeouts. Attempt n of the primary gets Timeout + n*RetryStep; the
	// fallback gets Timeout + FallbackExtra.
	Timeout       time.Duration
	RetryStep     time.Duration
	FallbackExtra time.Duration
	LocalTimeout  time.Duration

	// Retry configuration. Before retry n the gateway waits Backoff * 2^(n+1).
	MaxRetries int
	Backoff    time.Duration

	// Prompt budget.
	MaxContextChars int
	HistoryMessages int

	// Apology is returned when every backend fails.
	Apology string

	// Observability
	Logger *slog.Logger
	Events *events.Bus
}

// Option is a functional option for configuring the gateway.
type Option func(*Config)

// WithTimeout sets the base request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry configures the primary retry count and backoff unit.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.Backoff = backoff
	}
}

// WithRetryStep sets the per-attempt timeout increment.
func WithRetryStep(d time.Duration) Option {
	return func(c *Config) { c.RetryStep = d }
}

// WithFallbackExtra sets the additional timeout granted to the fallback.
func WithFallbackExtra(d time.Duration) Option {
	return func(c *Config) { c.FallbackExtra = d }
}

// WithLocalTimeout sets the timeout for the local backend.
func WithLocalTimeout(d time.Duration) Option {
	return func(c *Config) { c.LocalTimeout = d }
}

// WithMaxContextChars sets the prompt truncation budget.
func WithMaxContextChars(n int) Option {
	return func(c *Config) { c.MaxContextChars = n }
}

// WithHistoryMessages sets how many history messages are included in prompts.
func WithHistoryMessages(n int) Option {
	return func(c *Config) { c.HistoryMessages = n }
}

// WithApology sets the text returned when every backend fails.
func WithApology(s string) Option {
	return func(c *Config) { c.Apology = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithEvents publishes provider.* events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(c *Config) { c.Events = bus }
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:         90 * time.Second,
		RetryStep:       30 * time.Second,
		FallbackExtra:   60 * time.Second,
		LocalTimeout:    60 * time.Second,
		MaxRetries:      2,
		Backoff:         time.Second,
		MaxContextChars: tokens.DefaultMaxContextChars,
		HistoryMessages: DefaultHistoryMessages,
		Apology:         DefaultApology,
		Logger:          slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// normalize clamps out-of-range values to usable ones. Configuration
// errors are reported by the config loader before a gateway is built.
func (c *Config) normalize() {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig().Timeout
	}
	if c.LocalTimeout <= 0 {
		c.LocalTimeout = c.Timeout
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = tokens.DefaultMaxContextChars
	}
	if c.HistoryMessages < 0 {
		c.HistoryMessages = 0
	}
	if c.Apology == "" {
		c.Apology = DefaultApology
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
