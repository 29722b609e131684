// Package confirm implements the spoken confirmation state machine.
//
// The flow reads the refined text back, asks whether to send it, and
// races a spoken answer against a UI override and a timeout. It asks once
// more when nothing is recognized and cancels after that, so it always
// terminates within two listen cycles.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/pkg/events"
	"github.com/teslashibe/go-parley/pkg/schema"
)

// Spoken prompts.
const (
	ReadbackPrefix = "Hier ist die verbesserte Version: "
	AskPrompt      = "Soll ich abschicken oder verändern?"
	RetryPrompt    = "Ich habe dich nicht verstanden. Abschicken oder verändern?"
	CancelNotice   = "Okay, abgebrochen."
)

// DefaultTimeout bounds each listen cycle.
const DefaultTimeout = 10 * time.Second

// ErrFlowBusy is returned when a confirmation is already pending.
var ErrFlowBusy = errors.New("confirm: confirmation already in progress")

// SpeakFunc speaks text and returns when playback ends.
type SpeakFunc func(ctx context.Context, text string) error

// ListenFunc records one spoken answer and returns its transcript. It
// must return promptly once ctx is cancelled. An empty string means
// nothing was heard.
type ListenFunc func(ctx context.Context) (string, error)

// Config holds confirmation settings.
type Config struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Readback bool          `mapstructure:"readback" yaml:"readback"`
}

// DefaultConfig returns the default confirmation settings.
func DefaultConfig() Config {
	return Config{Enabled: true, Timeout: DefaultTimeout, Readback: true}
}

// Flow runs confirmations. One Flow serves one confirmation at a time.
type Flow struct {
	bus    *events.Bus
	speak  SpeakFunc
	listen ListenFunc
	cfg    Config
	logger *slog.Logger

	override chan schema.ConfirmationOutcome

	mu      sync.Mutex
	state   string
	running bool
}

// New creates a flow. A nil logger uses slog.Default.
func New(bus *events.Bus, speak SpeakFunc, listen ListenFunc, cfg Config, logger *slog.Logger) *Flow {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		bus:      bus,
		speak:    speak,
		listen:   listen,
		cfg:      cfg,
		logger:   logger.With("component", "confirm"),
		override: make(chan schema.ConfirmationOutcome, 1),
		state:    string(schema.PhaseIdle),
	}
}

// State returns the current phase or terminal outcome.
func (f *Flow) State() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Pending reports whether a confirmation is waiting for an answer.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Reset returns the flow to idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = string(schema.PhaseIdle)
}

// SetOverride resolves the pending wait with outcome, as if the user had
// said it. It reports false for non-terminal outcomes or when an override
// is already queued.
func (f *Flow) SetOverride(outcome schema.ConfirmationOutcome) bool {
	if _, ok := schema.ParseOutcome(string(outcome)); !ok {
		return false
	}
	select {
	case f.override <- outcome:
		return true
	default:
		return false
	}
}

// Run executes one confirmation for refined and returns its outcome:
// Send, Edit, Redo or Cancel. Cancelling ctx cancels the confirmation.
func (f *Flow) Run(ctx context.Context, refined schema.RefinerResult, runID string) (schema.ConfirmationOutcome, error) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return schema.OutcomeNone, ErrFlowBusy
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	f.drainOverride()

	f.setState(string(schema.PhaseReadback), runID)
	f.emit(events.ConfirmationAsk, map[string]any{
		"text":  refined.ImprovedText,
		"phase": string(schema.PhaseReadback),
	}, runID)
	if f.cfg.Readback {
		f.say(ctx, ReadbackPrefix+refined.ImprovedText)
	}

	f.setState(string(schema.PhaseAwaitingResponse), runID)
	f.say(ctx, AskPrompt)

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			f.say(ctx, RetryPrompt)
		}
		if ctx.Err() != nil {
			break
		}
		if outcome, ok := f.awaitAnswer(ctx, runID); ok {
			return outcome, nil
		}
	}

	f.setState(string(schema.OutcomeCancel), runID)
	reason := "timeout"
	if ctx.Err() != nil {
		reason = "cancelled"
	}
	f.emit(events.ConfirmationResponse, map[string]any{
		"action": string(schema.OutcomeCancel),
		"reason": reason,
	}, runID)
	if ctx.Err() == nil {
		f.say(ctx, CancelNotice)
	}
	return schema.OutcomeCancel, nil
}

// awaitAnswer runs one listen cycle and interprets its result.
func (f *Flow) awaitAnswer(ctx context.Context, runID string) (schema.ConfirmationOutcome, bool) {
	text, override := f.waitForResponse(ctx)

	if override != schema.OutcomeNone {
		f.setState(string(override), runID)
		f.emit(events.ConfirmationResponse, map[string]any{
			"action": string(override),
			"source": "ui",
		}, runID)
		return override, true
	}

	if text == "" {
		return schema.OutcomeNone, false
	}
	outcome, ok := Detect(text)
	if !ok {
		f.logger.Debug("answer not recognized", "text", text)
		return schema.OutcomeNone, false
	}
	f.setState(string(outcome), runID)
	f.emit(events.ConfirmationResponse, map[string]any{
		"text":   text,
		"action": string(outcome),
	}, runID)
	return outcome, true
}

type listenResult struct {
	text string
	err  error
}

// waitForResponse races the listener against an override and the timeout.
// The listener's context is cancelled as soon as the race is decided.
func (f *Flow) waitForResponse(ctx context.Context) (string, schema.ConfirmationOutcome) {
	lctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	results := make(chan listenResult, 1)
	go func() {
		text, err := f.listen(lctx)
		results <- listenResult{text: text, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			if lctx.Err() == nil {
				f.logger.Warn("listen failed", "error", r.err)
			}
			return "", schema.OutcomeNone
		}
		return r.text, schema.OutcomeNone
	case o := <-f.override:
		return "", o
	case <-lctx.Done():
		return "", schema.OutcomeNone
	}
}

func (f *Flow) drainOverride() {
	for {
		select {
		case <-f.override:
		default:
			return
		}
	}
}

func (f *Flow) say(ctx context.Context, text string) {
	if f.speak == nil {
		return
	}
	if err := f.speak(ctx, text); err != nil {
		f.logger.Warn("speak failed", "error", err)
	}
}

func (f *Flow) setState(state, runID string) {
	f.mu.Lock()
	old := f.state
	f.state = state
	f.mu.Unlock()
	f.emit(events.StateChange, map[string]any{
		"old":       old,
		"new":       state,
		"component": "confirmation",
	}, runID)
}

func (f *Flow) emit(eventType string, data map[string]any, runID string) {
	if f.bus != nil {
		f.bus.Emit(eventType, data, runID)
	}
}
