// Package schema defines the records and enums shared by every stage of the
// voice command pipeline.
//
// Nothing in this package performs I/O. Values are created by one stage and
// consumed by the next within a single run.
package schema

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyText is returned when an utterance carries no text.
var ErrEmptyText = errors.New("schema: text must not be empty")

// ErrInvalidOrigin is returned for an unknown utterance origin.
var ErrInvalidOrigin = errors.New("schema: origin must be text or voice")

// Origin tags where an utterance came from.
type Origin string

const (
	// OriginVoice is a transcribed spoken utterance.
	OriginVoice Origin = "voice"
	// OriginText is typed input.
	OriginText Origin = "text"
)

// Utterance is one unit of user input entering the pipeline.
type Utterance struct {
	Text    string `json:"text"`
	Origin  Origin `json:"mode"`
	Context string `json:"context,omitempty"`
}

// NewUtterance validates and builds an Utterance.
// An empty origin defaults to OriginText.
func NewUtterance(text string, origin Origin) (Utterance, error) {
	if origin == "" {
		origin = OriginText
	}
	if origin != OriginText && origin != OriginVoice {
		return Utterance{}, ErrInvalidOrigin
	}
	if strings.TrimSpace(text) == "" {
		return Utterance{}, ErrEmptyText
	}
	return Utterance{Text: text, Origin: origin}, nil
}

// Route is the routing decision for an utterance.
type Route string

const (
	RouteCommand       Route = "command"
	RouteRefine        Route = "refine"
	RouteLanguageModel Route = "llm"
)

// CommandMatch identifies the command keyword that matched.
type CommandMatch struct {
	Name    string `json:"name"`
	Keyword string `json:"keyword"`
}

// RouterResult is the output of intent routing.
// Command is set if and only if Route is RouteCommand.
type RouterResult struct {
	Route      Route         `json:"route"`
	Confidence float64       `json:"confidence"`
	Command    *CommandMatch `json:"command,omitempty"`
	Notes      string        `json:"notes,omitempty"`
}

// Action is what the refiner suggests doing with the improved text.
type Action string

const (
	ActionSend Action = "send"
	ActionAsk  Action = "ask"
	ActionEdit Action = "edit"
)

// ParseAction maps a raw action string to an Action.
// Unknown values map to ActionSend.
func ParseAction(s string) Action {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionAsk:
		return ActionAsk
	case ActionEdit:
		return ActionEdit
	default:
		return ActionSend
	}
}

// TokenBudget bounds the size of a provider reply.
type TokenBudget struct {
	MaxOutputTokens int `json:"max_output_tokens"`
}

// DefaultTokenBudget is used when the refiner does not return one.
var DefaultTokenBudget = TokenBudget{MaxOutputTokens: 2048}

// IntentPassthrough marks a refiner result that left the text untouched.
const IntentPassthrough = "passthrough"

// RefinerResult is the structured output of prompt refinement.
type RefinerResult struct {
	Intent       string      `json:"intent"`
	ImprovedText string      `json:"improved_text"`
	Action       Action      `json:"do"`
	Questions    []string    `json:"questions"`
	TokenBudget  TokenBudget `json:"token_budget"`
}

// Passthrough returns the result used when refinement is skipped or fails.
func Passthrough(raw string) RefinerResult {
	return RefinerResult{
		Intent:       IntentPassthrough,
		ImprovedText: raw,
		Action:       ActionSend,
		Questions:    []string{},
		TokenBudget:  DefaultTokenBudget,
	}
}

// RiskLevel classifies how dangerous a text or command is.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
	RiskBlocked   RiskLevel = "blocked"
)

// SafetyResult is the outcome of a safety check.
type SafetyResult struct {
	Level                RiskLevel `json:"risk_level"`
	Score                int       `json:"risk_score"`
	Message              string    `json:"message"`
	RequiresVoiceConfirm bool      `json:"requires_voice_confirm"`
	RequiresGUIConfirm   bool      `json:"requires_gui_confirm"`
}

// Blocked reports whether the input must never run.
func (r SafetyResult) Blocked() bool {
	return r.Level == RiskBlocked
}

// TokenMetrics records size and timing of one provider exchange.
type TokenMetrics struct {
	CharsIn     int   `json:"chars_in"`
	CharsOut    int   `json:"chars_out"`
	TokenEstIn  int   `json:"token_est_in"`
	TokenEstOut int   `json:"token_est_out"`
	LatencyMs   int64 `json:"latency_ms"`
}

// RunEvent is one immutable entry in a run's event log.
type RunEvent struct {
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id,omitempty"`
}

// EngineResult is the terminal artifact of one pipeline execution.
type EngineResult struct {
	RunID        string              `json:"run_id"`
	Transcript   string              `json:"transcript"`
	ImprovedText string              `json:"improved_text,omitempty"`
	ResponseText string              `json:"response_text"`
	Route        Route               `json:"route,omitempty"`
	Router       *RouterResult       `json:"router,omitempty"`
	Refiner      *RefinerResult      `json:"refiner,omitempty"`
	Safety       *SafetyResult       `json:"safety,omitempty"`
	Outcome      ConfirmationOutcome `json:"confirmation,omitempty"`
	Error        string              `json:"error,omitempty"`
	Metrics      *TokenMetrics       `json:"metrics,omitempty"`
}

// FinalText is the text that was (or would have been) sent onwards.
func (r *EngineResult) FinalText() string {
	if r.ImprovedText != "" {
		return r.ImprovedText
	}
	return r.Transcript
}

// Message roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
